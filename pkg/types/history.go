package types

import "time"

// HistoryEntry is one executed cell as recorded in the history store.
type HistoryEntry struct {
	SessionID      string        `json:"session_id"`
	ExecutionCount int           `json:"execution_count"`
	Source         string        `json:"source"`
	Status         Status        `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}
