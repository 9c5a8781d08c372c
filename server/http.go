// Package server hosts the HTTP operations surface: health, Prometheus
// metrics, the session listing and a single-request JSON-RPC endpoint whose
// callers pick their session with the X-Session-Id header.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sameehj/cellgate/pkg/gateway"
	"github.com/sameehj/cellgate/pkg/kernel"
	"github.com/sameehj/cellgate/pkg/rpc"
	"github.com/sameehj/cellgate/pkg/version"
)

const (
	// SessionHeader names the session a POST /rpc call runs in. Calls without
	// it get a new session whose ID comes back in the same header.
	SessionHeader = "X-Session-Id"

	httpShutdownTimeout = 5 * time.Second
	maxRPCBody          = 8 << 20
)

// SessionLister reports the connected kernel sessions.
type SessionLister interface {
	ListSessions() []gateway.SessionInfo
}

type Server struct {
	addr       string
	started    time.Time
	sessions   SessionLister
	pool       *kernel.Pool
	authorizer gateway.Authorizer
	logger     *slog.Logger
}

// New builds the ops server. sessions and pool may be nil, in which case the
// matching routes report an empty listing or 404.
func New(addr string, sessions SessionLister, pool *kernel.Pool) *Server {
	return &Server{addr: addr, started: time.Now(), sessions: sessions, pool: pool, authorizer: gateway.NoopAuthorizer{}}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetAuthorizer guards every route except /health.
func (s *Server) SetAuthorizer(auth gateway.Authorizer) {
	if auth == nil {
		auth = gateway.NoopAuthorizer{}
	}
	s.authorizer = auth
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/health", s.handleHealth)
	router.Group(func(r chi.Router) {
		r.Use(s.authorize)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/sessions", s.handleSessions)
		if s.pool != nil {
			r.Post("/rpc", s.handleRPC)
			r.Delete("/rpc", s.handleRelease)
		}
	})
	return router
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.authorizer.Allow(r.Context(), r.RemoteAddr); err != nil {
			s.logWarn("http_request_denied", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logWarn("http_shutdown_failed", "error", err)
		}
	}()

	s.logInfo("http_listening", "addr", listener.Addr().String())
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        version.Version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := []gateway.SessionInfo{}
	if s.sessions != nil {
		sessions = s.sessions.ListSessions()
	}
	pooled := []kernel.PoolSession{}
	if s.pool != nil {
		pooled = s.pool.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "pooled": pooled})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBody))
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	g, created, err := s.pool.Acquire(r.Header.Get(SessionHeader))
	switch {
	case errors.Is(err, kernel.ErrInvalidSessionID):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, kernel.ErrSessionLimit):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if created {
		s.logInfo("http_session_start", "id", g.SessionID(), "remote", r.RemoteAddr)
	}
	w.Header().Set(SessionHeader, g.SessionID())

	srv := rpc.NewServer(g)
	srv.SetLogger(s.logger)
	resp := srv.Handle(r.Context(), payload)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		http.Error(w, "missing "+SessionHeader+" header", http.StatusBadRequest)
		return
	}
	if !s.pool.Release(id) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
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
