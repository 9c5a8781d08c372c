package kernel

import (
	"fmt"

	"github.com/sameehj/cellgate/pkg/types"
)

// State is the lifecycle position of a single cell request.
type State string

const (
	StateIdle              State = "idle"
	StateAdmitting         State = "admitting"
	StateRunning           State = "running"
	StateCompleted         State = "completed"
	StateSecurityRejected  State = "security-rejected"
	StateRuntimeFailed     State = "runtime-failed"
	StateTimedOut          State = "timed-out"
	StateAdmissionRejected State = "admission-rejected"
)

var transitions = map[State][]State{
	StateIdle:              {StateAdmitting},
	StateAdmitting:         {StateRunning, StateAdmissionRejected},
	StateRunning:           {StateCompleted, StateSecurityRejected, StateRuntimeFailed, StateTimedOut},
	StateCompleted:         {StateIdle},
	StateSecurityRejected:  {StateIdle},
	StateRuntimeFailed:     {StateIdle},
	StateTimedOut:          {StateIdle},
	StateAdmissionRejected: {StateIdle},
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a request.
func (s State) Terminal() bool {
	return len(transitions[s]) == 1 && transitions[s][0] == StateIdle
}

// terminalState maps an outcome tag to the state that produced it.
func terminalState(status types.Status) State {
	switch status {
	case types.StatusOK:
		return StateCompleted
	case types.StatusSecurityError:
		return StateSecurityRejected
	case types.StatusExecutionError:
		return StateRuntimeFailed
	case types.StatusTimeout:
		return StateTimedOut
	case types.StatusAdmissionError:
		return StateAdmissionRejected
	default:
		panic(fmt.Sprintf("kernel: unknown outcome status %q", status))
	}
}

// tracker records the transitions of one request and refuses illegal ones.
type tracker struct {
	state State
	path  []State
}

func newTracker() *tracker {
	return &tracker{state: StateIdle, path: []State{StateIdle}}
}

func (t *tracker) advance(to State) {
	if !CanTransition(t.state, to) {
		panic(fmt.Sprintf("kernel: illegal transition %s -> %s", t.state, to))
	}
	t.state = to
	t.path = append(t.path, to)
}
