package kernel

import (
	"testing"

	"github.com/sameehj/cellgate/pkg/types"
)

func TestTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateAdmitting, true},
		{StateIdle, StateRunning, false},
		{StateAdmitting, StateRunning, true},
		{StateAdmitting, StateAdmissionRejected, true},
		{StateAdmitting, StateTimedOut, false},
		{StateRunning, StateTimedOut, true},
		{StateRunning, StateAdmissionRejected, false},
		{StateTimedOut, StateIdle, true},
		{StateCompleted, StateRunning, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	t.Parallel()

	for _, status := range []types.Status{
		types.StatusOK, types.StatusSecurityError, types.StatusExecutionError,
		types.StatusTimeout, types.StatusAdmissionError,
	} {
		if !terminalState(status).Terminal() {
			t.Errorf("state for %s should be terminal", status)
		}
	}
	if StateRunning.Terminal() || StateIdle.Terminal() {
		t.Errorf("running and idle are not terminal")
	}
}

func TestTrackerRejectsIllegalTransition(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	tr.advance(StateAdmitting)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on illegal transition")
		}
	}()
	tr.advance(StateCompleted)
}
