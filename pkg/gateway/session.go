package gateway

import (
	"time"

	"github.com/sameehj/cellgate/pkg/kernel"
)

// Session tracks a single client connection and the kernel serving it.
type Session struct {
	ID         string
	RemoteAddr string
	StartedAt  time.Time

	gateway *kernel.Gateway
}

// SessionInfo is the listing view of a session.
type SessionInfo struct {
	ID             string                `json:"id"`
	RemoteAddr     string                `json:"remote_addr"`
	StartedAt      time.Time             `json:"started_at"`
	ExecutionCount int                   `json:"execution_count"`
	Active         []kernel.ActiveWorker `json:"active"`
}

func (s *Session) Info() SessionInfo {
	info := SessionInfo{ID: s.ID, RemoteAddr: s.RemoteAddr, StartedAt: s.StartedAt}
	if s.gateway != nil {
		info.ExecutionCount = s.gateway.Info().ExecutionCount
		info.Active = s.gateway.Active()
	}
	return info
}
