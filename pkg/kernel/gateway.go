// Package kernel hosts the execution gateway: it admits cells, runs each one
// on its own worker under the session deadline, and turns whatever happened
// into a single types.Outcome.
//
// Screening is text-only. Nothing here restricts what an admitted line can do
// to memory, the filesystem or the network once the interpreter runs it.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sameehj/cellgate/pkg/exec"
	"github.com/sameehj/cellgate/pkg/limiter"
	"github.com/sameehj/cellgate/pkg/policy"
	"github.com/sameehj/cellgate/pkg/session"
	"github.com/sameehj/cellgate/pkg/types"
	"github.com/sameehj/cellgate/pkg/version"
)

var (
	// ErrNotInitialized is returned for every request once initialization failed.
	ErrNotInitialized = errors.New("kernel not initialized")
	// ErrHistoryDisabled is returned by History when no store is configured.
	ErrHistoryDisabled = errors.New("history is not enabled")
)

// History persists executed cells.
type History interface {
	Record(ctx context.Context, entry types.HistoryEntry) error
	Recent(ctx context.Context, sessionID string, limit int) ([]types.HistoryEntry, error)
}

// Options configures a Gateway. Interpreter is required; everything else has
// a default.
type Options struct {
	SessionID   string
	Interpreter exec.Interpreter
	// InitErr marks the gateway as degraded, for example when the interpreter
	// binary is missing or has an incompatible version.
	InitErr error
	Policy  policy.Enforcer
	Config  *session.Config
	// Limiter may be shared between gateways to enforce a process-wide cap.
	Limiter *limiter.Limiter
	History History
	Store   *session.Store
	Logger  *slog.Logger
}

// ActiveWorker describes a cell that currently holds an admission slot.
type ActiveWorker struct {
	ID        string    `json:"id"`
	Preview   string    `json:"preview"`
	StartedAt time.Time `json:"started_at"`
}

// Info summarises the gateway for clients.
type Info struct {
	SessionID      string           `json:"session_id"`
	Implementation string           `json:"implementation"`
	Version        string           `json:"version"`
	Settings       session.Snapshot `json:"settings"`
	InFlight       int              `json:"in_flight"`
	Limit          int              `json:"limit"`
	ExecutionCount int              `json:"execution_count"`
	Error          string           `json:"error,omitempty"`
}

// Gateway is the single entry point for cell execution in a session. Execute
// is safe for concurrent use; session settings are only mutated by session
// commands inside the cell being run.
type Gateway struct {
	sessionID string
	initErr   error
	cfg       *session.Config
	limiter   *limiter.Limiter
	workerCfg exec.WorkerConfig
	history   History
	store     *session.Store
	logger    *slog.Logger

	executionCount atomic.Int64
	savedVersion   atomic.Uint64

	mu     sync.Mutex
	active map[string]ActiveWorker
}

func New(opts Options) *Gateway {
	cfg := opts.Config
	if cfg == nil {
		cfg = session.NewConfig(session.DefaultSnapshot())
	}
	lim := opts.Limiter
	if lim == nil {
		lim = limiter.New(cfg.Snapshot().MaxConcurrent)
	}
	enforcer := opts.Policy
	if enforcer == nil {
		enforcer = policy.Default()
	}
	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	g := &Gateway{
		sessionID: id,
		cfg:       cfg,
		limiter:   lim,
		history:   opts.History,
		store:     opts.Store,
		logger:    opts.Logger,
		active:    make(map[string]ActiveWorker),
	}

	switch {
	case opts.InitErr != nil:
		g.initErr = fmt.Errorf("%w: %v", ErrNotInitialized, opts.InitErr)
	case opts.Interpreter == nil:
		g.initErr = fmt.Errorf("%w: interpreter capability is missing", ErrNotInitialized)
	}
	if g.initErr != nil {
		g.logError("kernel_init_failed", "session", g.sessionID, "error", g.initErr)
	}

	g.restore()
	g.workerCfg = exec.WorkerConfig{
		Policy:        policy.Guard(enforcer, cfg),
		Interpreter:   opts.Interpreter,
		Commands:      session.NewHandler(cfg),
		WorkDir:       cfg.WorkingDirectory,
		CommandPrefix: session.Prefix,
	}
	g.savedVersion.Store(cfg.Version())
	return g
}

func (g *Gateway) SessionID() string {
	return g.sessionID
}

// Err returns the initialization failure, if any.
func (g *Gateway) Err() error {
	return g.initErr
}

// Config exposes the session settings owned by this gateway.
func (g *Gateway) Config() *session.Config {
	return g.cfg
}

// Execute runs one cell and blocks until it completes or its deadline passes.
// Per-cell failures are reported in the Outcome; the error is non-nil only when
// the gateway failed to initialize.
func (g *Gateway) Execute(ctx context.Context, req types.Request) (types.Outcome, error) {
	if g.initErr != nil {
		return types.Outcome{}, g.initErr
	}

	start := time.Now()
	tr := newTracker()
	tr.advance(StateAdmitting)

	if !g.limiter.TryAdmit() {
		outcome := types.AdmissionRejected(g.limiter.Limit())
		tr.advance(StateAdmissionRejected)
		tr.advance(StateIdle)
		recordOutcome(outcome, 0, false)
		g.logWarn("cell_admission_rejected", "session", g.sessionID, "limit", g.limiter.Limit())
		return g.finalize(ctx, req, outcome, start, false), nil
	}
	defer func() {
		g.limiter.Release()
		recordInFlight(g.limiter.InFlight())
	}()
	recordInFlight(g.limiter.InFlight())
	tr.advance(StateRunning)

	// The deadline comes from a snapshot so a set_timeout inside this cell
	// only affects the next one.
	snap := g.cfg.Snapshot()
	workerID := uuid.NewString()
	g.track(workerID, req, start)
	defer g.untrack(workerID)

	outcome := g.run(ctx, workerID, req, snap)
	tr.advance(terminalState(outcome.Status))
	tr.advance(StateIdle)

	recordOutcome(outcome, time.Since(start), true)
	g.logInfo("cell_finished",
		"session", g.sessionID,
		"worker", workerID,
		"status", outcome.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return g.finalize(ctx, req, outcome, start, true), nil
}

// run starts the worker and races it against the deadline. On expiry the
// worker's context is cancelled; it stops at its next checkpoint or when the
// interpreter honours the cancellation, possibly after this returns.
func (g *Gateway) run(ctx context.Context, workerID string, req types.Request, snap session.Snapshot) types.Outcome {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := g.workerCfg
	cfg.MaxOutput = snap.MaxOutputBytes
	worker := exec.NewWorker(cfg)

	done := make(chan types.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- types.RuntimeFailed(fmt.Sprintf("worker panic: %v", r), string(debug.Stack()), 0)
			}
		}()
		done <- worker.Run(workerCtx, req)
	}()

	timer := time.NewTimer(time.Duration(snap.TimeoutSeconds) * time.Second)
	defer timer.Stop()

	g.logDebug("cell_running", "session", g.sessionID, "worker", workerID, "timeout_s", snap.TimeoutSeconds)

	select {
	case outcome := <-done:
		return outcome
	case <-timer.C:
		cancel()
		g.logWarn("cell_timed_out", "session", g.sessionID, "worker", workerID, "timeout_s", snap.TimeoutSeconds)
		return partial(types.TimedOut(snap.TimeoutSeconds), worker)
	case <-ctx.Done():
		cancel()
		return partial(types.RuntimeFailed("execution cancelled: "+ctx.Err().Error(), "", 0), worker)
	}
}

// partial attaches whatever an abandoned worker has captured so far.
func partial(outcome types.Outcome, worker *exec.Worker) types.Outcome {
	outcome.StdoutTruncated, outcome.StderrTruncated = worker.Truncated()
	outcome.Stdout, outcome.Stderr = worker.Output()
	return outcome
}

// finalize numbers admitted, non-silent cells, records history and persists
// changed settings.
func (g *Gateway) finalize(ctx context.Context, req types.Request, outcome types.Outcome, start time.Time, admitted bool) types.Outcome {
	if admitted && !req.Silent {
		outcome.ExecutionCount = int(g.executionCount.Add(1))
	}
	if req.StoreHistory && g.history != nil {
		entry := types.HistoryEntry{
			SessionID:      g.sessionID,
			ExecutionCount: outcome.ExecutionCount,
			Source:         req.Source(),
			Status:         outcome.Status,
			StartedAt:      start,
			Duration:       time.Since(start),
		}
		if err := g.history.Record(context.WithoutCancel(ctx), entry); err != nil {
			g.logWarn("history_record_failed", "session", g.sessionID, "error", err)
		}
	}
	g.persist()
	if req.Silent {
		outcome = outcome.Suppress()
	}
	return outcome
}

// Active lists the cells currently holding a slot, oldest first.
func (g *Gateway) Active() []ActiveWorker {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ActiveWorker, 0, len(g.active))
	for _, w := range g.active {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// State is StateRunning while any cell holds a slot and StateIdle otherwise.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.active) > 0 {
		return StateRunning
	}
	return StateIdle
}

func (g *Gateway) Info() Info {
	info := Info{
		SessionID:      g.sessionID,
		Implementation: version.Name,
		Version:        version.Version,
		Settings:       g.cfg.Snapshot(),
		InFlight:       g.limiter.InFlight(),
		Limit:          g.limiter.Limit(),
		ExecutionCount: int(g.executionCount.Load()),
	}
	if g.initErr != nil {
		info.Error = g.initErr.Error()
	}
	return info
}

// History returns the most recent recorded cells of this session.
func (g *Gateway) History(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	if g.history == nil {
		return nil, ErrHistoryDisabled
	}
	return g.history.Recent(ctx, g.sessionID, limit)
}

func (g *Gateway) track(id string, req types.Request, start time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[id] = ActiveWorker{ID: id, Preview: req.Preview(), StartedAt: start}
}

func (g *Gateway) untrack(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, id)
}

func (g *Gateway) restore() {
	if g.store == nil {
		return
	}
	rec, found, err := g.store.Load(g.sessionID)
	if err != nil {
		g.logWarn("session_restore_failed", "session", g.sessionID, "error", err)
		return
	}
	if found {
		g.cfg.Restore(rec.Settings)
		g.logInfo("session_restored", "session", g.sessionID, "updated_at", rec.UpdatedAt)
	}
}

func (g *Gateway) persist() {
	if g.store == nil {
		return
	}
	v := g.cfg.Version()
	if old := g.savedVersion.Load(); old == v || !g.savedVersion.CompareAndSwap(old, v) {
		return
	}
	if err := g.store.Save(g.sessionID, g.cfg.Snapshot()); err != nil {
		g.logWarn("session_save_failed", "session", g.sessionID, "error", err)
	}
}

func (g *Gateway) logDebug(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}

func (g *Gateway) logInfo(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Info(msg, args...)
	}
}

func (g *Gateway) logWarn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}

func (g *Gateway) logError(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Error(msg, args...)
	}
}
