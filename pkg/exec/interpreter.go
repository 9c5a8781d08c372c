package exec

import (
	"context"
	"errors"
	"io"

	"github.com/sameehj/cellgate/pkg/types"
)

// Call is a single validated line handed to an Interpreter.
type Call struct {
	Line   string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// Result carries what an interpreted line produced besides text output.
type Result struct {
	Artifacts []types.Artifact
}

// Interpreter executes one line of the statistics language. Implementations
// should honour ctx cancellation where they can.
type Interpreter interface {
	Interpret(ctx context.Context, call Call) (*Result, error)
}

// InterpreterFunc adapts a function to the Interpreter interface.
type InterpreterFunc func(ctx context.Context, call Call) (*Result, error)

func (f InterpreterFunc) Interpret(ctx context.Context, call Call) (*Result, error) {
	return f(ctx, call)
}

// RuntimeError is an interpreter failure with an optional trace.
type RuntimeError struct {
	Message string
	Trace   string
}

func (e *RuntimeError) Error() string {
	return e.Message
}

func asRuntimeError(err error) *RuntimeError {
	var rtErr *RuntimeError
	if errors.As(err, &rtErr) {
		return rtErr
	}
	return &RuntimeError{Message: err.Error()}
}
