package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sameehj/cellgate/pkg/policy"
	"github.com/sameehj/cellgate/pkg/types"
)

const defaultSeparator = "#%%"

type executor interface {
	Execute(ctx context.Context, req types.Request) (types.Outcome, error)
}

func splitLines(source string) []string {
	return types.NewRequest(source, false, false).Lines
}

// splitCells cuts source at separator lines. Empty cells are dropped.
func splitCells(source, separator string) []string {
	var cells []string
	var current []string
	flush := func() {
		cell := strings.Join(current, "\n")
		if strings.TrimSpace(cell) != "" {
			cells = append(cells, cell)
		}
		current = current[:0]
	}
	for _, line := range splitLines(source) {
		if separator != "" && strings.TrimSpace(line) == separator {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return cells
}

// runCells executes cells in order and returns how many did not finish ok.
// A gateway error stops the run.
func runCells(ctx context.Context, g executor, cells []string, silent bool, stdout, stderr io.Writer, asJSON bool) (int, error) {
	failed := 0
	enc := json.NewEncoder(stdout)
	for _, cell := range cells {
		outcome, err := g.Execute(ctx, types.NewRequest(cell, silent, true))
		if err != nil {
			return failed, err
		}
		if outcome.Status != types.StatusOK {
			failed++
		}
		if asJSON {
			if err := enc.Encode(outcome); err != nil {
				return failed, err
			}
			continue
		}
		printOutcome(stdout, stderr, outcome)
	}
	return failed, nil
}

// printOutcome writes captured output and, for failures, the outcome message.
// It reports whether the outcome was ok.
func printOutcome(stdout, stderr io.Writer, outcome types.Outcome) bool {
	io.WriteString(stdout, outcome.Stdout)
	io.WriteString(stderr, outcome.Stderr)
	for _, a := range outcome.Artifacts {
		fmt.Fprintf(stderr, "[artifact %s %s, %d bytes]\n", a.Name, a.MIMEType, len(a.Data))
	}
	if outcome.Status == types.StatusOK {
		return true
	}
	fmt.Fprintf(stderr, "%s: %s\n", outcome.Status, outcome.Message())
	if outcome.Failure != nil && outcome.Failure.Trace != "" {
		fmt.Fprintln(stderr, outcome.Failure.Trace)
	}
	return false
}

func printReport(w io.Writer, report policy.Report) {
	for _, v := range report.Violations {
		fmt.Fprintf(w, "line %d: %s\n  triggers: %s\n", v.LineNumber, v.Line, strings.Join(v.Triggers, ", "))
	}
	fmt.Fprintf(w, "%d line(s) checked, %d rejected\n", report.Checked, len(report.Violations))
}
