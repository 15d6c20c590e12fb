package vthread

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-vthread/carrier"
	"github.com/joeycumines/go-vthread/continuation"
	"github.com/joeycumines/go-vthread/timer"
	"github.com/joeycumines/goroutineid"
	"github.com/joeycumines/logiface"
)

// threadTestHooks provides injection points for deterministic race testing.
type threadTestHooks struct {
	PreAfterYield func() // Called after the continuation suspends, before afterYield
	PrePinnedPark func() // Called after storing PINNED/TIMED_PINNED, before checking the permit
}

var threadIDSeq atomic.Uint64

// Thread is a logical (virtual) thread: a task that runs on a carrier pool,
// and that parks by suspending its continuation, releasing the carrier.
//
// A Thread must be created with New (or Go), and started exactly once.
type Thread struct { // betteralign:ignore
	_ [0]func()

	state threadStateWord

	id   uint64
	name string
	task func(*Thread)

	cont      *continuation.Continuation
	scheduler *carrier.Pool
	timers    timer.Service
	container Container
	observer  Observer
	logger    *logiface.Logger[logiface.Event]
	uncaught  func(*Thread, error)
	trace     *catrate.Limiter

	// runTask is the resumption task, allocated once
	runTask carrier.Task

	permit      atomic.Bool
	interrupted atomic.Bool

	// carrierMu guards carrier, and synchronizes interrupt delivery with
	// mount and unmount
	carrierMu sync.Mutex
	carrier   *carrier.Worker

	// nextCarrier is the worker resuming the continuation, written before
	// each cont.Run, and read by the thread on mount
	nextCarrier *carrier.Worker

	// parker wakes the carrier while parked pinned
	parker chan struct{}

	// goroutine of the continuation body, 0 until first mount
	goid atomic.Int64

	termination atomic.Pointer[chan struct{}]
	exited      atomic.Bool
	// written before TERMINATED is stored
	err error

	testHooks *threadTestHooks
}

// New creates a thread that will run task, once started. The task receives
// the thread, which is also available via Current.
func New(task func(t *Thread), opts ...Option) (*Thread, error) {
	if task == nil {
		return nil, fmt.Errorf(`vthread: nil task`)
	}
	cfg, err := resolveThreadOptions(opts)
	if err != nil {
		return nil, err
	}
	t := &Thread{
		id:        threadIDSeq.Add(1),
		name:      cfg.name,
		task:      task,
		scheduler: cfg.scheduler,
		timers:    cfg.timers,
		container: cfg.container,
		observer:  cfg.observer,
		logger:    cfg.logger,
		uncaught:  cfg.uncaught,
		trace:     cfg.pinnedTrace,
		parker:    make(chan struct{}, 1),
	}
	if t.observer == nil {
		t.observer = ObserverFuncs{}
	}
	t.cont = continuation.New(t.run, continuation.WithOnPinned(t.onPinned))
	t.runTask = t.runContinuation
	return t, nil
}

// Go creates and starts a thread, see New and Start.
func Go(task func(t *Thread), opts ...Option) (*Thread, error) {
	t, err := New(task, opts...)
	if err != nil {
		return nil, err
	}
	if err := t.Start(); err != nil {
		return nil, err
	}
	return t, nil
}

// ID returns the thread's unique, non-zero ID.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the thread's name, which may be empty.
func (t *Thread) Name() string { return t.name }

// Scheduler returns the carrier pool the thread runs on.
func (t *Thread) Scheduler() *carrier.Pool { return t.scheduler }

// State returns the thread's current state.
func (t *Thread) State() ThreadState { return t.state.Load().public() }

// rawState returns the internal state word.
func (t *Thread) rawState() threadState { return t.state.Load() }

// Carrier returns the worker the thread is mounted on, or nil.
func (t *Thread) Carrier() *carrier.Worker {
	t.carrierMu.Lock()
	defer t.carrierMu.Unlock()
	return t.carrier
}

// String returns a description of the thread, including its carrier, if
// mounted, e.g. "VirtualThread[#7,name]/runnable@pool-worker-1".
func (t *Thread) String() string {
	var b strings.Builder
	b.WriteString(`VirtualThread[#`)
	fmt.Fprint(&b, t.id)
	if t.name != `` {
		b.WriteByte(',')
		b.WriteString(t.name)
	}
	b.WriteString(`]/`)
	b.WriteString(strings.ToLower(t.State().String()))
	if w := t.Carrier(); w != nil {
		b.WriteByte('@')
		b.WriteString(w.Name())
	}
	return b.String()
}

// Start schedules the thread to run, registering it with the container
// configured by WithContainer, or RootContainer.
//
// Returns ErrAlreadyStarted if the thread was already started, or an error
// wrapping ErrRejected (a *RejectedError) if the scheduler rejected it, in
// which case the thread is terminated.
func (t *Thread) Start() error {
	container := t.container
	if container == nil {
		container = RootContainer()
	}
	return t.StartIn(container)
}

// StartIn is Start, registering the thread with container.
func (t *Thread) StartIn(container Container) error {
	if !t.state.TryTransition(stateNew, stateStarted) {
		return ErrAlreadyStarted
	}
	if container == nil {
		container = RootContainer()
	}
	t.container = container

	container.OnStart(t)

	if err := t.scheduler.Submit(t.runTask); err != nil {
		t.err = &RejectedError{ThreadID: t.id, Cause: err}
		t.cont.Abandon()
		t.state.Store(stateTerminated)
		t.afterTerminate()
		return t.err
	}
	return nil
}

// runContinuation is the resumption task.
func (t *Thread) runContinuation(w *carrier.Worker) {
	switch s := t.state.Load(); {
	case s == stateStarted && t.state.TryTransition(stateStarted, stateRunning):
		// first run
	case s == stateUnparked && t.state.TryTransition(stateUnparked, stateRunning):
		t.permit.Store(false)
	case s == stateYielded && t.state.TryTransition(stateYielded, stateRunning):
	default:
		// not runnable, e.g. a duplicate submission
		return
	}

	t.nextCarrier = w
	t.cont.Run()

	if t.cont.IsDone() {
		t.afterTerminate()
		return
	}
	if h := t.testHooks; h != nil && h.PreAfterYield != nil {
		h.PreAfterYield()
	}
	t.afterYield(w)
}

// run is the body of the continuation.
func (t *Thread) run() {
	t.goid.Store(goroutineid.Get())
	setCurrent(t)
	t.mount()
	defer func() {
		if t.cont.Abandoned() {
			// forced termination, the thread was unmounted
			clearCurrent(t)
			return
		}
		t.unmount()
		clearCurrent(t)
		t.state.Store(stateTerminated)
	}()
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Value: r, Stack: debug.Stack()}
			if t.err != nil {
				// panicked while unwinding a forced termination
				t.err = errors.Join(t.err, err)
			} else {
				t.err = err
			}
			t.dispatchUncaught(err)
		}
	}()
	t.task(t)
}

func (t *Thread) dispatchUncaught(err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Err().
				Str(`thread`, t.String()).
				Any(`panic`, r).
				Log(`uncaught handler panicked`)
		}
	}()
	if t.uncaught != nil {
		t.uncaught(t, err)
		return
	}
	t.logger.Err().
		Str(`thread`, t.String()).
		Err(err).
		Log(`uncaught panic in thread`)
}

// mount binds the thread to nextCarrier. Called on the thread.
func (t *Thread) mount() {
	w := t.nextCarrier
	if !w.Mount(t.id) {
		panic(fmt.Errorf(`vthread: %s: carrier %s already has mounted thread #%d`, t, w, w.Mounted()))
	}

	t.carrierMu.Lock()
	t.carrier = w
	// sync the carrier's interrupt status
	if t.interrupted.Load() {
		w.SetInterrupt()
	} else {
		w.ClearInterrupt()
	}
	t.carrierMu.Unlock()

	t.observer.OnMount(t, w)
}

// unmount unbinds the thread from its carrier. Called on the thread.
func (t *Thread) unmount() {
	w := t.carrier
	t.observer.OnUnmount(t, w)

	t.carrierMu.Lock()
	t.carrier = nil
	t.carrierMu.Unlock()

	w.ClearInterrupt()
	if !w.Unmount(t.id) {
		panic(fmt.Errorf(`vthread: %s: not mounted on carrier %s`, t, w))
	}
}

// afterTerminate signals joiners and notifies the container, once.
func (t *Thread) afterTerminate() {
	if !t.exited.CompareAndSwap(false, true) {
		return
	}
	if ch := t.termination.Load(); ch != nil {
		close(*ch)
	}
	if t.container != nil {
		t.container.OnExit(t)
	}
	t.logger.Trace().
		Uint64(`thread`, t.id).
		Log(`thread terminated`)
}

// submitFailed forces termination, after a rejected resubmission, so the
// thread never becomes unjoinable. The caller must have exclusive ownership
// of the resumption, i.e. have performed the transition to UNPARKED or
// YIELDED.
func (t *Thread) submitFailed(err error) {
	t.err = &RejectedError{ThreadID: t.id, Cause: err}
	t.logger.Warning().
		Str(`thread`, t.String()).
		Err(err).
		Log(`resumption rejected, terminating thread`)
	// unwinds the suspended task, running its deferred calls
	t.cont.Abandon()
	t.state.Store(stateTerminated)
	t.afterTerminate()
}

// onPinned is called by the continuation, on the thread, when it refuses to
// suspend.
func (t *Thread) onPinned(reason continuation.Reason) {
	t.observer.OnPinned(t, reason)
	if t.trace == nil {
		return
	}
	if _, ok := t.trace.Allow(reason); ok {
		t.logger.Warning().
			Str(`thread`, t.String()).
			Stringer(`reason`, reason).
			Str(`stack`, string(debug.Stack())).
			Log(`thread pinned`)
	}
}

func (t *Thread) isCurrent() bool {
	return t.goid.Load() == goroutineid.Get()
}

func (t *Thread) checkCurrent() {
	if !t.isCurrent() {
		panic(ErrNotCurrentThread)
	}
}
