package continuation

import (
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"github.com/joeycumines/goroutineid"
)

// Continuation is a suspendable, resumable task. Instances must be created
// using New, and must not be copied.
//
// Run may be called from any goroutine, but never concurrently. Yield and
// the pinning methods may only be called from within the task.
type Continuation struct { // betteralign:ignore
	_ [0]func()

	task     func()
	onPinned func(Reason)

	// handoff: at most one of runner and body executes
	resume  chan struct{}
	suspend chan struct{}

	// runner-owned, serialized by running
	started bool
	stop    bool

	// written by the body before it signals suspend
	panicked *PanicError

	running   atomic.Bool
	done      atomic.Bool
	abandoned atomic.Bool
	goid      atomic.Int64

	native   atomic.Int32
	monitors atomic.Int32
	critical atomic.Int32
}

// New creates a continuation that will execute task. A panic will occur if
// task is nil, or if an option fails to apply.
func New(task func(), opts ...Option) *Continuation {
	if task == nil {
		panic(`continuation: nil task`)
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		panic(err)
	}
	return &Continuation{
		task:     task,
		onPinned: cfg.onPinned,
		resume:   make(chan struct{}, 1),
		suspend:  make(chan struct{}, 1),
	}
}

// Run begins or resumes execution, returning when the task yields or
// completes. If the task panicked, Run panics with a *PanicError.
func (c *Continuation) Run() {
	if !c.running.CompareAndSwap(false, true) {
		panic(ErrRunning)
	}
	if c.done.Load() {
		c.running.Store(false)
		panic(ErrDone)
	}

	if !c.started {
		c.started = true
		go c.enter()
	} else {
		c.resume <- struct{}{}
	}
	<-c.suspend

	p := c.panicked
	c.panicked = nil
	c.running.Store(false)

	if p != nil {
		panic(p)
	}
}

// Yield suspends the task, returning control to the most recent Run caller.
// It returns true after being resumed, or false if the continuation is
// pinned (or being abandoned), in which case it returns immediately.
func (c *Continuation) Yield() bool {
	if goroutineid.Get() != c.goid.Load() {
		panic(ErrNotInContinuation)
	}
	if c.stop {
		return false
	}
	if reason := c.PinnedReason(); reason != ReasonNone {
		if c.onPinned != nil {
			c.onPinned(reason)
		}
		return false
	}

	c.suspend <- struct{}{}
	<-c.resume

	if c.stop {
		runtime.Goexit()
	}
	return true
}

// IsDone returns true if the task has completed, including by panic,
// runtime.Goexit, or Abandon.
func (c *Continuation) IsDone() bool {
	return c.done.Load()
}

// Abandon terminates a suspended continuation. If the task had started, it
// is unwound via runtime.Goexit from its pending Yield, running any deferred
// calls, and Abandon waits for that to complete. Deferred calls made during
// the unwind must not rely on suspension, as Yield will return false.
//
// Abandon panics with ErrRunning if the continuation is running, and is a
// no-op if it is already done.
func (c *Continuation) Abandon() {
	if !c.running.CompareAndSwap(false, true) {
		panic(ErrRunning)
	}
	defer c.running.Store(false)

	if c.done.Load() {
		return
	}
	c.abandoned.Store(true)

	if !c.started {
		c.started = true
		c.done.Store(true)
		return
	}

	c.stop = true
	c.resume <- struct{}{}
	<-c.suspend
	c.panicked = nil
}

// Abandoned returns true if Abandon was called before the task completed.
func (c *Continuation) Abandoned() bool {
	return c.abandoned.Load()
}

func (c *Continuation) enter() {
	c.goid.Store(goroutineid.Get())
	defer func() {
		if r := recover(); r != nil && !c.stop {
			c.panicked = &PanicError{Value: r, Stack: debug.Stack()}
		}
		c.done.Store(true)
		c.suspend <- struct{}{}
	}()
	c.task()
}
