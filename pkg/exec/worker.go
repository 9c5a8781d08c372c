package exec

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/sameehj/cellgate/pkg/policy"
	"github.com/sameehj/cellgate/pkg/types"
)

const (
	DefaultCommentPrefix = "#"
	DefaultCommandPrefix = "session."
)

// CommandHandler executes reserved session commands. Output goes to the cell's
// own streams; errors are reported there rather than returned.
type CommandHandler interface {
	Handle(line string, stdout, stderr io.Writer)
}

// WorkerConfig is shared by every worker a gateway starts.
type WorkerConfig struct {
	Policy        policy.Enforcer
	Interpreter   Interpreter
	Commands      CommandHandler
	WorkDir       func() string
	MaxOutput     int
	CommentPrefix string
	CommandPrefix string
}

// Worker runs one cell. It owns its output captures, which are never shared.
type Worker struct {
	cfg    WorkerConfig
	stdout *Capture
	stderr *Capture
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.CommentPrefix == "" {
		cfg.CommentPrefix = DefaultCommentPrefix
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = DefaultCommandPrefix
	}
	return &Worker{
		cfg:    cfg,
		stdout: NewCapture(cfg.MaxOutput),
		stderr: NewCapture(cfg.MaxOutput),
	}
}

// Run executes the cell line by line. A policy rejection aborts the cell before
// the rejected line runs; an interpreter error aborts the remaining lines.
// Lines already executed are not rolled back. ctx is checked before every
// interpreted line.
func (w *Worker) Run(ctx context.Context, req types.Request) types.Outcome {
	var artifacts []types.Artifact

	for i, raw := range req.Lines {
		lineNumber := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, w.cfg.CommentPrefix) {
			continue
		}

		if strings.HasPrefix(line, w.cfg.CommandPrefix) {
			if w.cfg.Commands != nil {
				w.cfg.Commands.Handle(line, w.stdout, w.stderr)
			} else {
				fmt.Fprintf(w.stderr, "session commands are not available: %s\n", line)
			}
			continue
		}

		if w.cfg.Policy != nil {
			if ok, triggers := w.cfg.Policy.Check(line); !ok {
				return w.finish(types.SecurityRejected(line, lineNumber, triggers), artifacts)
			}
		}

		if err := ctx.Err(); err != nil {
			return w.finish(types.RuntimeFailed("execution cancelled: "+err.Error(), "", lineNumber), artifacts)
		}

		result, rtErr := w.interpret(ctx, line)
		if rtErr != nil {
			return w.finish(types.RuntimeFailed(rtErr.Message, rtErr.Trace, lineNumber), artifacts)
		}
		if result != nil {
			artifacts = append(artifacts, result.Artifacts...)
		}
	}

	return w.finish(types.Ok("", "", nil), artifacts)
}

// Output returns what has been captured so far. It is safe to call while Run
// is still in progress.
func (w *Worker) Output() (stdout, stderr string) {
	return w.stdout.String(), w.stderr.String()
}

// Truncated reports whether either capture has dropped output so far.
func (w *Worker) Truncated() (stdout, stderr bool) {
	return w.stdout.Truncated(), w.stderr.Truncated()
}

func (w *Worker) interpret(ctx context.Context, line string) (result *Result, rtErr *RuntimeError) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			rtErr = &RuntimeError{Message: fmt.Sprintf("interpreter panic: %v", r), Trace: string(debug.Stack())}
		}
	}()

	dir := ""
	if w.cfg.WorkDir != nil {
		dir = w.cfg.WorkDir()
	}
	res, err := w.cfg.Interpreter.Interpret(ctx, Call{
		Line:   line,
		Dir:    dir,
		Stdout: w.stdout,
		Stderr: w.stderr,
	})
	if err != nil {
		return nil, asRuntimeError(err)
	}
	return res, nil
}

func (w *Worker) finish(outcome types.Outcome, artifacts []types.Artifact) types.Outcome {
	outcome.Stdout = w.stdout.String()
	outcome.Stderr = w.stderr.String()
	outcome.StdoutTruncated, outcome.StderrTruncated = w.Truncated()
	if outcome.Status == types.StatusOK {
		outcome.Artifacts = artifacts
	}
	return outcome
}
