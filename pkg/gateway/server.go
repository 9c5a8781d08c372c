// Package gateway accepts TCP connections and gives each one its own kernel
// session speaking the framed JSON-RPC protocol.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sameehj/cellgate/pkg/kernel"
	"github.com/sameehj/cellgate/pkg/rpc"
)

// SessionFactory builds the kernel gateway backing a new session.
type SessionFactory func(id string) *kernel.Gateway

type Server struct {
	addr        string
	factory     SessionFactory
	authorizer  Authorizer
	maxSessions int
	onClose     func(id string)
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	bound    net.Addr
}

func NewServer(addr string, factory SessionFactory, authorizer Authorizer) *Server {
	if authorizer == nil {
		authorizer = NoopAuthorizer{}
	}
	return &Server{addr: addr, factory: factory, authorizer: authorizer, sessions: make(map[string]*Session)}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Server) SetMaxSessions(max int) {
	s.maxSessions = max
}

// SetOnClose registers fn to run after a session's connection ends.
func (s *Server) SetOnClose(fn func(id string)) {
	s.onClose = fn
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled. The listener
// is closed on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	defer listener.Close()
	s.mu.Lock()
	s.bound = listener.Addr()
	s.mu.Unlock()
	s.logInfo("gateway_listening", "addr", listener.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logError("accept_failed", "error", err)
			return err
		}

		remote := conn.RemoteAddr().String()
		if s.maxSessions > 0 && s.sessionCount() >= s.maxSessions {
			s.logWarn("session_limit_reached", "remote", remote, "limit", s.maxSessions)
			_ = conn.Close()
			continue
		}
		if err := s.authorizer.Allow(ctx, remote); err != nil {
			s.logWarn("session_denied", "remote", remote, "error", err)
			_ = conn.Close()
			continue
		}

		id := uuid.NewString()
		session := &Session{
			ID:         id,
			RemoteAddr: remote,
			StartedAt:  time.Now(),
			gateway:    s.factory(id),
		}
		s.register(session)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.unregister(session.ID)
			s.serveSession(ctx, session, conn)
			if s.onClose != nil {
				s.onClose(session.ID)
			}
		}()
	}
}

func (s *Server) serveSession(ctx context.Context, session *Session, conn net.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// unblock a pending read when the server shuts down
	stop := context.AfterFunc(connCtx, func() { _ = conn.Close() })
	defer stop()

	s.logInfo("session_start", "id", session.ID, "remote", session.RemoteAddr)
	srv := rpc.NewServer(session.gateway)
	srv.SetLogger(s.logger)
	if err := srv.Serve(connCtx, conn, conn); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logWarn("session_error", "id", session.ID, "error", err)
	}
	_ = conn.Close()
	s.logInfo("session_end", "id", session.ID, "remote", session.RemoteAddr)
}

func (s *Server) register(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ListSessions describes the connected sessions, oldest first.
func (s *Server) ListSessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Addr returns the bound address once serving, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != nil {
		return s.bound.String()
	}
	return s.addr
}

func (s *Server) String() string {
	return fmt.Sprintf("gateway(%s)", s.Addr())
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
