package continuation

import (
	"errors"
	"fmt"
)

var (
	// ErrRunning is the panic value raised by Run or Abandon, if the
	// continuation is already running.
	ErrRunning = errors.New("continuation: already running")

	// ErrDone is the panic value raised by Run, if the continuation has
	// already completed.
	ErrDone = errors.New("continuation: already done")

	// ErrNotInContinuation is the panic value raised by Yield, if it is
	// called from outside the continuation's body.
	ErrNotInContinuation = errors.New("continuation: yield called outside of the continuation")
)

// PanicError wraps a value recovered from a panicking continuation body.
// Run re-panics with a *PanicError, on the runner's goroutine.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("continuation: panic: %v", e.Value)
}

// Unwrap returns the panic value, if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
