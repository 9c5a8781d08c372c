package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sameehj/cellgate/pkg/exec"
	"github.com/sameehj/cellgate/pkg/policy"
	"github.com/sameehj/cellgate/pkg/types"
)

type scriptedExecutor struct {
	outcomes []types.Outcome
	seen     []string
}

func (s *scriptedExecutor) Execute(ctx context.Context, req types.Request) (types.Outcome, error) {
	s.seen = append(s.seen, req.Source())
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out, nil
}

func TestSplitCells(t *testing.T) {
	t.Parallel()

	cells := splitCells("x <- 1\r\n#%%\n\n#%%\ny <- 2\nz\n", defaultSeparator)
	if len(cells) != 2 {
		t.Fatalf("expected 2 cells, got %d: %q", len(cells), cells)
	}
	if cells[1] != "y <- 2\nz\n" {
		t.Fatalf("unexpected second cell %q", cells[1])
	}
	if got := splitCells("a\nb", ""); len(got) != 1 {
		t.Fatalf("expected single cell without separator, got %d", len(got))
	}
}

func TestRunCellsCountsFailures(t *testing.T) {
	t.Parallel()

	g := &scriptedExecutor{outcomes: []types.Outcome{
		types.Ok("[1] 1\n", "", nil),
		types.SecurityRejected("import os", 1, []string{"import", "os."}),
	}}
	var stdout, stderr bytes.Buffer
	failed, err := runCells(context.Background(), g, []string{"x", "import os"}, false, &stdout, &stderr, false)
	if err != nil {
		t.Fatalf("runCells: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected one failed cell, got %d", failed)
	}
	if stdout.String() != "[1] 1\n" {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "security-error") {
		t.Fatalf("expected status in stderr, got %q", stderr.String())
	}
}

func TestRunCellsJSON(t *testing.T) {
	t.Parallel()

	g := &scriptedExecutor{outcomes: []types.Outcome{types.TimedOut(1)}}
	var stdout bytes.Buffer
	if _, err := runCells(context.Background(), g, []string{"loop()"}, false, &stdout, &bytes.Buffer{}, true); err != nil {
		t.Fatalf("runCells: %v", err)
	}
	if !strings.Contains(stdout.String(), `"status":"timeout"`) {
		t.Fatalf("expected JSON outcome, got %q", stdout.String())
	}
}

func TestPrintReport(t *testing.T) {
	t.Parallel()

	report := policy.Evaluate(policy.Default(), splitLines("# import os\nsession.get_timeout\nlibrary(x)\neval(y)"),
		exec.DefaultCommentPrefix, exec.DefaultCommandPrefix)
	var out bytes.Buffer
	printReport(&out, report)
	if report.Checked != 2 || len(report.Violations) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !strings.Contains(out.String(), "line 4: eval(y)") {
		t.Fatalf("unexpected report output %q", out.String())
	}
}
