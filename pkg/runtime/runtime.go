// Package runtime assembles the shared pieces of a cellgate process: policy,
// interpreter, admission limiter, history and session persistence. Every
// transport gets its sessions from NewSession.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	osexec "os/exec"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/sameehj/cellgate/pkg/config"
	"github.com/sameehj/cellgate/pkg/exec"
	"github.com/sameehj/cellgate/pkg/gateway"
	"github.com/sameehj/cellgate/pkg/grpcapi"
	"github.com/sameehj/cellgate/pkg/history"
	"github.com/sameehj/cellgate/pkg/kernel"
	"github.com/sameehj/cellgate/pkg/limiter"
	"github.com/sameehj/cellgate/pkg/policy"
	"github.com/sameehj/cellgate/pkg/session"
	"github.com/sameehj/cellgate/server"
)

// Options tune NewRuntime beyond what the config file holds.
type Options struct {
	Logger *slog.Logger
	// Level is adjusted by session.set_log_level when set.
	Level *slog.LevelVar
	// Scratch gives every session without a configured working directory
	// its own directory under the state dir.
	Scratch bool
	// Interpreter overrides the configured command, mainly for tests.
	Interpreter exec.Interpreter
}

type Runtime struct {
	config  *config.Config
	logger  *slog.Logger
	level   *slog.LevelVar
	policy  *policy.Denylist
	interp  exec.Interpreter
	initErr error
	limiter *limiter.Limiter
	history *history.Store
	store   *session.Store
	scratch *sandboxManager
}

func NewRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	deny, err := cfg.Denylist()
	if err != nil {
		return nil, fmt.Errorf("initialise policy: %w", err)
	}

	rt := &Runtime{
		config:  cfg,
		logger:  opts.Logger,
		level:   opts.Level,
		policy:  deny,
		limiter: limiter.New(cfg.Kernel.MaxConcurrent),
		store:   session.NewStore(cfg.SessionsDir()),
	}
	if opts.Scratch && cfg.Kernel.WorkingDirectory == "" {
		rt.scratch = newSandboxManager(cfg.State.Dir)
	}

	rt.interp = opts.Interpreter
	if rt.interp == nil {
		rt.interp, rt.initErr = DetectInterpreter(cfg.Interpreter)
		if rt.initErr != nil {
			rt.logWarn("interpreter_unavailable", "error", rt.initErr)
		}
	}

	if cfg.History.Enabled && cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		rt.history = store
	}
	return rt, nil
}

// DetectInterpreter resolves the configured interpreter command. The error is
// meant to be passed to kernels as their initialization failure.
func DetectInterpreter(cfg config.InterpreterConfig) (exec.Interpreter, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("no interpreter command configured")
	}
	if !cfg.Shell {
		if _, err := osexec.LookPath(cfg.Command[0]); err != nil {
			return nil, fmt.Errorf("interpreter %q not found: %w", cfg.Command[0], err)
		}
	}
	return exec.NewCommandInterpreter(cfg.Command, cfg.Shell)
}

// NewSession builds a kernel for id. Sessions share the policy, interpreter,
// admission limiter and history of the runtime.
func (rt *Runtime) NewSession(id string) *kernel.Gateway {
	cfg := session.NewConfig(rt.config.SessionDefaults())
	if rt.level != nil {
		cfg.BindLevel(rt.level)
	}
	if rt.scratch != nil {
		if dir, err := rt.scratch.Ensure(id); err != nil {
			rt.logWarn("scratch_dir_failed", "session", id, "error", err)
		} else {
			_ = cfg.SetWorkingDirectory(dir)
		}
	}

	opts := kernel.Options{
		SessionID:   id,
		Interpreter: rt.interp,
		InitErr:     rt.initErr,
		Policy:      rt.policy,
		Config:      cfg,
		Limiter:     rt.limiter,
		Store:       rt.store,
		Logger:      rt.logger,
	}
	if rt.history != nil {
		opts.History = rt.history
	}
	return kernel.New(opts)
}

// ReleaseSession ends a session that no client can come back to: its scratch
// directory and saved settings are removed.
func (rt *Runtime) ReleaseSession(id string) {
	rt.SuspendSession(id)
	if err := rt.store.Delete(id); err != nil {
		rt.logWarn("session_forget_failed", "session", id, "error", err)
	}
}

// SuspendSession drops the scratch directory of a session whose client chose
// its ID. The saved settings stay so the same ID resumes them.
func (rt *Runtime) SuspendSession(id string) {
	if rt.scratch != nil {
		rt.scratch.Remove(id)
	}
}

// NewPool returns the session pool for request-scoped transports. Sessions the
// client named are suspended on release, generated ones are forgotten.
func (rt *Runtime) NewPool() *kernel.Pool {
	return kernel.NewPool(kernel.PoolOptions{
		Factory:     rt.NewSession,
		MaxSessions: rt.config.Gateway.MaxSessions,
		IdleTimeout: rt.config.IdleTimeout(),
		OnRelease: func(id string, named bool) {
			if named {
				rt.SuspendSession(id)
				return
			}
			rt.ReleaseSession(id)
		},
		Logger: rt.logger,
	})
}

func (rt *Runtime) Policy() *policy.Denylist {
	return rt.policy
}

func (rt *Runtime) InitErr() error {
	return rt.initErr
}

// Serve runs the TCP gateway plus the optional gRPC and HTTP listeners until
// ctx is cancelled or one of them fails.
func (rt *Runtime) Serve(ctx context.Context) error {
	cfg := rt.config
	var grpcListener net.Listener
	if cfg.GRPC.Addr != "" {
		listener, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcListener = listener
	}

	group, ctx := errgroup.WithContext(ctx)
	auth := gateway.AllowlistAuthorizer{Allowed: cfg.Gateway.Allowed}

	// TCP sessions live as long as their connection and cannot be resumed.
	gw := gateway.NewServer(cfg.Gateway.Addr, rt.NewSession, auth)
	gw.SetMaxSessions(cfg.Gateway.MaxSessions)
	gw.SetLogger(rt.logger)
	gw.SetOnClose(rt.ReleaseSession)
	group.Go(func() error { return gw.Start(ctx) })

	// gRPC and HTTP callers share one pool, so a session ID works on both.
	pool := rt.NewPool()
	group.Go(func() error { return pool.Run(ctx) })

	if grpcListener != nil {
		svc := grpcapi.NewService(pool)
		svc.SetLogger(rt.logger)
		srv := grpcapi.NewServer(svc, grpc.UnaryInterceptor(grpcapi.AuthorizeUnary(auth)))
		rt.logInfo("grpc_listening", "addr", grpcListener.Addr().String())
		group.Go(func() error { return grpcapi.Serve(ctx, srv, grpcListener) })
	}

	if cfg.HTTP.Addr != "" {
		ops := server.New(cfg.HTTP.Addr, gw, pool)
		ops.SetAuthorizer(auth)
		ops.SetLogger(rt.logger)
		group.Go(func() error { return ops.Start(ctx) })
	}

	return group.Wait()
}

func (rt *Runtime) Close() error {
	if rt.history != nil {
		return rt.history.Close()
	}
	return nil
}

func (rt *Runtime) logInfo(msg string, args ...any) {
	if rt.logger != nil {
		rt.logger.Info(msg, args...)
	}
}

func (rt *Runtime) logWarn(msg string, args ...any) {
	if rt.logger != nil {
		rt.logger.Warn(msg, args...)
	}
}
