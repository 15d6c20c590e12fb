package vthread

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned when starting a thread more than once.
	ErrAlreadyStarted = errors.New("vthread: thread already started")

	// ErrNotCurrentThread is the panic value raised when an operation that
	// must be performed by a thread on itself (e.g. Park) is called from any
	// other goroutine.
	ErrNotCurrentThread = errors.New("vthread: not called by the current thread")

	// ErrInterrupted is returned by blocking operations, such as Sleep, when
	// the thread was interrupted.
	ErrInterrupted = errors.New("vthread: interrupted")

	// ErrRejected indicates the scheduler rejected the thread's resumption
	// task, e.g. because it was shut down.
	ErrRejected = errors.New("vthread: rejected by scheduler")

	// ErrNotStarted is returned when joining a thread that was never started.
	ErrNotStarted = errors.New("vthread: thread not started")
)

// PanicError wraps a value recovered from a thread's task.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("vthread: task panicked: %v", e.Value)
}

// Unwrap returns the panic value, if it is an error, enabling errors.Is and
// errors.As through it.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RejectedError indicates that a thread was terminated, or never started,
// because the scheduler rejected its resumption task. It matches
// ErrRejected, via errors.Is.
type RejectedError struct {
	Cause    error
	ThreadID uint64
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("vthread: thread #%d rejected by scheduler: %v", e.ThreadID, e.Cause)
}

// Unwrap returns the scheduler's error.
func (e *RejectedError) Unwrap() error {
	return e.Cause
}

// Is matches ErrRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}
