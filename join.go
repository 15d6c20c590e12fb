package vthread

import (
	"context"
	"time"
)

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel that is closed once the thread has terminated.
func (t *Thread) Done() <-chan struct{} {
	if t.state.Load() == stateTerminated {
		return closedChan
	}
	// the latch must exist before the state is checked again, termination
	// stores the state before loading the latch
	ch := t.getTermination()
	if t.state.Load() == stateTerminated {
		return closedChan
	}
	return ch
}

// getTermination returns the termination latch, creating it if necessary.
func (t *Thread) getTermination() chan struct{} {
	if ch := t.termination.Load(); ch != nil {
		return *ch
	}
	ch := make(chan struct{})
	if t.termination.CompareAndSwap(nil, &ch) {
		return ch
	}
	return *t.termination.Load()
}

// Join waits for the thread to terminate, or for ctx to be done. It returns
// ErrNotStarted if the thread was never started.
//
// Join returns nil when the thread terminates, regardless of how, see Err.
func (t *Thread) Join(ctx context.Context) error {
	if t.state.Load() == stateNew {
		return ErrNotStarted
	}
	done := t.Done()
	select {
	case <-done:
		return nil
	default:
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinTimeout waits up to d for the thread to terminate, returning true if
// it did. A thread that was never started is not terminated.
func (t *Thread) JoinTimeout(d time.Duration) bool {
	if t.state.Load() == stateNew {
		return false
	}
	done := t.Done()
	select {
	case <-done:
		return true
	default:
	}
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// IsAlive reports whether the thread has been started, and has not yet
// terminated.
func (t *Thread) IsAlive() bool {
	switch t.state.Load() {
	case stateNew, stateTerminated:
		return false
	default:
		return true
	}
}

// Err returns the reason the thread terminated abnormally: a *PanicError if
// its task panicked, or a *RejectedError if the scheduler rejected it. If a
// deferred call panicked while a rejected thread was unwinding, both are
// joined. It returns nil if the thread has not terminated, or returned
// normally.
func (t *Thread) Err() error {
	if t.state.Load() != stateTerminated {
		return nil
	}
	return t.err
}
