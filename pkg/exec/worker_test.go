package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sameehj/cellgate/pkg/policy"
	"github.com/sameehj/cellgate/pkg/types"
)

type recordingInterpreter struct {
	lines []string
	fn    func(call Call) (*Result, error)
}

func (r *recordingInterpreter) Interpret(ctx context.Context, call Call) (*Result, error) {
	r.lines = append(r.lines, call.Line)
	if r.fn != nil {
		return r.fn(call)
	}
	fmt.Fprintf(call.Stdout, "%s\n", call.Line)
	return &Result{}, nil
}

type recordingCommands struct {
	lines []string
}

func (r *recordingCommands) Handle(line string, stdout, stderr io.Writer) {
	r.lines = append(r.lines, line)
	fmt.Fprintf(stdout, "handled %s\n", line)
}

func newTestWorker(interp Interpreter, commands CommandHandler) *Worker {
	return NewWorker(WorkerConfig{
		Policy:      policy.Default(),
		Interpreter: interp,
		Commands:    commands,
		MaxOutput:   1 << 20,
	})
}

func TestWorkerRunsBenignCell(t *testing.T) {
	interp := &recordingInterpreter{}
	w := newTestWorker(interp, nil)

	out := w.Run(context.Background(), types.NewRequest("x <- c(1, 2)\n\n# comment\nmean(x)", false, true))
	if out.Status != types.StatusOK || !out.Valid() {
		t.Fatalf("expected ok outcome, got %+v", out)
	}
	if len(interp.lines) != 2 {
		t.Fatalf("expected blank and comment lines skipped, got %v", interp.lines)
	}
	if out.Stdout != "x <- c(1, 2)\nmean(x)\n" {
		t.Fatalf("unexpected stdout %q", out.Stdout)
	}
}

func TestWorkerSecurityRejectionStopsCell(t *testing.T) {
	interp := &recordingInterpreter{}
	w := newTestWorker(interp, nil)

	out := w.Run(context.Background(), types.NewRequest("a <- 1\nimport os\nb <- 2", false, false))
	if out.Status != types.StatusSecurityError || out.Security == nil {
		t.Fatalf("expected security outcome, got %+v", out)
	}
	if out.Security.LineNumber != 2 || out.Security.Line != "import os" {
		t.Fatalf("unexpected rejection detail %+v", out.Security)
	}
	if len(interp.lines) != 1 || interp.lines[0] != "a <- 1" {
		t.Fatalf("expected only the first line interpreted, got %v", interp.lines)
	}
}

func TestWorkerSessionCommandsBypassPolicy(t *testing.T) {
	interp := &recordingInterpreter{}
	commands := &recordingCommands{}
	w := newTestWorker(interp, commands)

	out := w.Run(context.Background(), types.NewRequest("session.set_cwd=/tmp/__import__\nsummary(y)", false, false))
	if out.Status != types.StatusOK {
		t.Fatalf("expected ok, got %+v", out)
	}
	if len(commands.lines) != 1 {
		t.Fatalf("expected session command dispatched, got %v", commands.lines)
	}
	if len(interp.lines) != 1 || interp.lines[0] != "summary(y)" {
		t.Fatalf("session command must not reach interpreter, got %v", interp.lines)
	}
}

func TestWorkerRuntimeErrorAbortsRemainder(t *testing.T) {
	interp := &recordingInterpreter{}
	interp.fn = func(call Call) (*Result, error) {
		if call.Line == "stop('bad')" {
			return nil, &RuntimeError{Message: "bad", Trace: "at line 1"}
		}
		fmt.Fprintln(call.Stdout, "ran")
		return nil, nil
	}
	w := newTestWorker(interp, nil)

	out := w.Run(context.Background(), types.NewRequest("a <- 1\nstop('bad')\nb <- 2", false, false))
	if out.Status != types.StatusExecutionError || out.Failure == nil {
		t.Fatalf("expected execution error, got %+v", out)
	}
	if out.Failure.Message != "bad" || out.Failure.Trace != "at line 1" || out.Failure.LineNumber != 2 {
		t.Fatalf("unexpected failure detail %+v", out.Failure)
	}
	if len(interp.lines) != 2 {
		t.Fatalf("expected third line skipped, got %v", interp.lines)
	}
	if out.Stdout != "ran\n" {
		t.Fatalf("expected output from executed lines kept, got %q", out.Stdout)
	}
}

func TestWorkerPlainErrorBecomesRuntimeFailure(t *testing.T) {
	interp := InterpreterFunc(func(ctx context.Context, call Call) (*Result, error) {
		return nil, errors.New("object 'z' not found")
	})
	out := newTestWorker(interp, nil).Run(context.Background(), types.NewRequest("print(z)", false, false))
	if out.Status != types.StatusExecutionError || out.Failure.Message != "object 'z' not found" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestWorkerRecoversInterpreterPanic(t *testing.T) {
	interp := InterpreterFunc(func(ctx context.Context, call Call) (*Result, error) {
		panic("segfault in stats backend")
	})
	out := newTestWorker(interp, nil).Run(context.Background(), types.NewRequest("lm(y ~ x)", false, false))
	if out.Status != types.StatusExecutionError {
		t.Fatalf("expected execution error, got %+v", out)
	}
	if !strings.Contains(out.Failure.Message, "segfault in stats backend") || out.Failure.Trace == "" {
		t.Fatalf("expected panic message and stack, got %+v", out.Failure)
	}
}

func TestWorkerStopsAtCancellationCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	interp := &recordingInterpreter{}
	interp.fn = func(call Call) (*Result, error) {
		cancel()
		return nil, nil
	}
	out := newTestWorker(interp, nil).Run(ctx, types.NewRequest("a <- 1\nb <- 2\nc <- 3", false, false))
	if out.Status != types.StatusExecutionError {
		t.Fatalf("expected cancellation failure, got %+v", out)
	}
	if len(interp.lines) != 1 {
		t.Fatalf("expected no line after cancellation, got %v", interp.lines)
	}
}

func TestWorkerCollectsArtifacts(t *testing.T) {
	interp := InterpreterFunc(func(ctx context.Context, call Call) (*Result, error) {
		return &Result{Artifacts: []types.Artifact{{Name: "p.png", MIMEType: "image/png", Data: []byte{1}}}}, nil
	})
	out := newTestWorker(interp, nil).Run(context.Background(), types.NewRequest("plot(a)\nplot(b)", false, false))
	if len(out.Artifacts) != 2 {
		t.Fatalf("expected two artifacts, got %d", len(out.Artifacts))
	}
}

func TestWorkerTruncatesOutput(t *testing.T) {
	interp := InterpreterFunc(func(ctx context.Context, call Call) (*Result, error) {
		_, _ = call.Stdout.Write([]byte(strings.Repeat("o", 4096)))
		return nil, nil
	})
	w := NewWorker(WorkerConfig{Interpreter: interp, MaxOutput: 1024})
	out := w.Run(context.Background(), types.NewRequest("print(big)", false, false))
	if !out.StdoutTruncated {
		t.Fatalf("expected truncation flag")
	}
	if out.Stdout != strings.Repeat("o", 1024)+TruncationMarker {
		t.Fatalf("unexpected truncated stdout length %d", len(out.Stdout))
	}
}
