package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionLimit is returned by Pool.Acquire when every session slot is taken.
	ErrSessionLimit = errors.New("session limit reached")
	// ErrInvalidSessionID is returned for IDs that cannot name a session.
	ErrInvalidSessionID = errors.New("invalid session id")
)

const maxSessionIDLen = 128

// PoolOptions configures a Pool.
type PoolOptions struct {
	Factory     func(id string) *Gateway
	MaxSessions int
	// IdleTimeout drops sessions that have not been used for this long. Zero
	// keeps sessions until they are released.
	IdleTimeout time.Duration
	// OnRelease runs after a session leaves the pool. named reports whether the
	// client chose the ID, so it can come back to the session later.
	OnRelease func(id string, named bool)
	Logger    *slog.Logger
}

type pooledSession struct {
	gateway  *Gateway
	named    bool
	created  time.Time
	lastUsed time.Time
}

// PoolSession describes a pooled session.
type PoolSession struct {
	ID        string    `json:"id"`
	Named     bool      `json:"named"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// Pool holds the sessions of request-scoped transports, where a session
// outlives a single call and is addressed by ID.
type Pool struct {
	opts PoolOptions
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*pooledSession
}

func NewPool(opts PoolOptions) *Pool {
	return &Pool{opts: opts, now: time.Now, sessions: make(map[string]*pooledSession)}
}

// Acquire returns the session named id, creating it when absent. An empty id
// creates a session with a generated ID. created reports whether the session
// is new.
func (p *Pool) Acquire(id string) (g *Gateway, created bool, err error) {
	if id != "" {
		if err := ValidateSessionID(id); err != nil {
			return nil, false, err
		}
	}
	expired := p.sweep()
	defer p.released(expired)

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if s, ok := p.sessions[id]; ok && id != "" {
		s.lastUsed = now
		return s.gateway, false, nil
	}
	if p.opts.MaxSessions > 0 && len(p.sessions) >= p.opts.MaxSessions {
		p.logWarn("pool_session_limit_reached", "limit", p.opts.MaxSessions)
		return nil, false, fmt.Errorf("%w: limit of %d", ErrSessionLimit, p.opts.MaxSessions)
	}
	named := id != ""
	if !named {
		id = uuid.NewString()
	}
	g = p.opts.Factory(id)
	p.sessions[id] = &pooledSession{gateway: g, named: named, created: now, lastUsed: now}
	p.logInfo("pool_session_start", "id", id, "named", named)
	return g, true, nil
}

// Lookup returns an existing session without creating one.
func (p *Pool) Lookup(id string) (*Gateway, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastUsed = p.now()
	return s.gateway, true
}

// Release removes the session and reports whether it existed.
func (p *Pool) Release(id string) bool {
	p.mu.Lock()
	s, ok := p.sessions[id]
	if ok {
		delete(p.sessions, id)
	}
	p.mu.Unlock()
	if ok {
		p.released(map[string]bool{id: s.named})
	}
	return ok
}

// Sweep drops idle sessions and returns how many were removed. Sessions with
// a cell in flight are never idle.
func (p *Pool) Sweep() int {
	expired := p.sweep()
	p.released(expired)
	return len(expired)
}

// Run sweeps periodically until ctx is cancelled, then releases every session.
func (p *Pool) Run(ctx context.Context) error {
	defer p.Close()
	if p.opts.IdleTimeout <= 0 {
		<-ctx.Done()
		return nil
	}
	interval := p.opts.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := p.Sweep(); n > 0 {
				p.logInfo("pool_sessions_expired", "count", n)
			}
		}
	}
}

// Close releases every session.
func (p *Pool) Close() {
	p.mu.Lock()
	all := make(map[string]bool, len(p.sessions))
	for id, s := range p.sessions {
		all[id] = s.named
	}
	p.sessions = make(map[string]*pooledSession)
	p.mu.Unlock()
	p.released(all)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// List describes the pooled sessions, oldest first.
func (p *Pool) List() []PoolSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PoolSession, 0, len(p.sessions))
	for id, s := range p.sessions {
		out = append(out, PoolSession{ID: id, Named: s.named, CreatedAt: s.created, LastUsed: s.lastUsed})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (p *Pool) sweep() map[string]bool {
	if p.opts.IdleTimeout <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.opts.IdleTimeout)
	var expired map[string]bool
	for id, s := range p.sessions {
		if s.lastUsed.After(cutoff) || s.gateway.State() == StateRunning {
			continue
		}
		if expired == nil {
			expired = make(map[string]bool)
		}
		expired[id] = s.named
		delete(p.sessions, id)
	}
	return expired
}

func (p *Pool) released(ids map[string]bool) {
	for id, named := range ids {
		p.logInfo("pool_session_end", "id", id, "named", named)
		if p.opts.OnRelease != nil {
			p.opts.OnRelease(id, named)
		}
	}
}

// ValidateSessionID accepts IDs made of letters, digits, '.', '-' and '_'.
func ValidateSessionID(id string) error {
	if id == "" || id == "." || id == ".." || len(id) > maxSessionIDLen {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
		}
	}
	return nil
}

func (p *Pool) logInfo(msg string, args ...any) {
	if p.opts.Logger != nil {
		p.opts.Logger.Info(msg, args...)
	}
}

func (p *Pool) logWarn(msg string, args ...any) {
	if p.opts.Logger != nil {
		p.opts.Logger.Warn(msg, args...)
	}
}
