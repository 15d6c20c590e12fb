package vthread

import (
	"context"
	"errors"
	"io"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-vthread/carrier"
	"github.com/joeycumines/go-vthread/continuation"
	"github.com/joeycumines/go-vthread/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func newTestPool(t *testing.T, opts ...carrier.Option) *carrier.Pool {
	t.Helper()
	pool, err := carrier.New(append([]carrier.Option{carrier.WithParallelism(2)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return pool
}

func newTestTimers(t *testing.T) *timer.Scheduler {
	t.Helper()
	timers, err := timer.NewScheduler(timer.WithShards(2))
	require.NoError(t, err)
	t.Cleanup(timers.Stop)
	return timers
}

// testOptions returns options for an isolated pool and timer service,
// followed by opts.
func testOptions(t *testing.T, opts ...Option) []Option {
	t.Helper()
	return append([]Option{
		WithScheduler(newTestPool(t)),
		WithTimers(newTestTimers(t)),
	}, opts...)
}

func goTest(t *testing.T, task func(th *Thread), opts ...Option) *Thread {
	t.Helper()
	th, err := Go(task, opts...)
	require.NoError(t, err)
	return th
}

func joinTest(t *testing.T, th *Thread) {
	t.Helper()
	if !th.JoinTimeout(testTimeout) {
		t.Fatalf("timed out joining %s", th)
	}
}

type mountCounter struct {
	mounts   atomic.Int64
	unmounts atomic.Int64
	pinned   atomic.Int64
}

func (x *mountCounter) observer() Observer {
	return ObserverFuncs{
		Mount:   func(*Thread, *carrier.Worker) { x.mounts.Add(1) },
		Unmount: func(*Thread, *carrier.Worker) { x.unmounts.Add(1) },
		Pinned:  func(*Thread, continuation.Reason) { x.pinned.Add(1) },
	}
}

func TestThread_RunsTask(t *testing.T) {
	t.Parallel()

	var counter mountCounter
	var ran atomic.Bool
	var current *Thread
	th, err := New(func(th *Thread) {
		current = Current()
		ran.Store(true)
	}, testOptions(t, WithName("worker"), WithObserver(counter.observer()))...)
	require.NoError(t, err)

	assert.Equal(t, StateNew, th.State())
	assert.False(t, th.IsAlive())
	assert.Equal(t, "worker", th.Name())
	assert.NotZero(t, th.ID(), 10)

	require.NoError(t, th.Start())
	joinTest(t, th)

	assert.True(t, ran.Load())
	assert.Same(t, th, current)
	assert.Equal(t, StateTerminated, th.State())
	assert.False(t, th.IsAlive())
	assert.NoError(t, th.Err())
	assert.Nil(t, th.Carrier())
	assert.Equal(t, int64(1), counter.mounts.Load())
	assert.Equal(t, int64(1), counter.unmounts.Load())
	assert.Nil(t, Current(), "not a thread")
}

func TestThread_UniqueIDs(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		th, err := New(func(*Thread) {}, opts...)
		require.NoError(t, err)
		require.False(t, seen[th.ID()])
		seen[th.ID()] = true
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(func(*Thread) {}, WithScheduler(nil))
	assert.Error(t, err)

	_, err = New(func(*Thread) {}, WithTimers(nil))
	assert.Error(t, err)

	_, err = New(func(*Thread) {}, WithPinnedTraceRate(map[time.Duration]int{time.Second: 0}))
	assert.Error(t, err)
}

func TestThread_StartTwice(t *testing.T) {
	t.Parallel()

	th := goTest(t, func(*Thread) {}, testOptions(t)...)
	assert.ErrorIs(t, th.Start(), ErrAlreadyStarted)
	joinTest(t, th)
	assert.ErrorIs(t, th.Start(), ErrAlreadyStarted)
}

func TestThread_JoinNotStarted(t *testing.T) {
	t.Parallel()

	th, err := New(func(*Thread) {}, testOptions(t)...)
	require.NoError(t, err)

	assert.ErrorIs(t, th.Join(context.Background()), ErrNotStarted)
	assert.False(t, th.JoinTimeout(time.Millisecond))
}

func TestThread_JoinContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	th := goTest(t, func(th *Thread) { <-release }, testOptions(t)...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, th.Join(ctx), context.DeadlineExceeded)
	assert.False(t, th.JoinTimeout(0))

	close(release)
	assert.NoError(t, th.Join(context.Background()))
	select {
	case <-th.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestThread_Panic(t *testing.T) {
	t.Parallel()

	handled := make(chan error, 1)
	th := goTest(t, func(*Thread) {
		panic(io.EOF)
	}, testOptions(t, WithUncaughtHandler(func(th *Thread, err error) {
		assert.Same(t, th, Current())
		handled <- err
	}))...)
	joinTest(t, th)

	err := <-handled
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, io.EOF, panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.ErrorIs(t, err, io.EOF)
	assert.Same(t, err, th.Err())
	assert.Equal(t, StateTerminated, th.State())
}

func TestThread_PanicDefaultHandler(t *testing.T) {
	t.Parallel()

	th := goTest(t, func(*Thread) { panic("not an error") }, testOptions(t)...)
	joinTest(t, th)

	var panicErr *PanicError
	require.ErrorAs(t, th.Err(), &panicErr)
	assert.Equal(t, "not an error", panicErr.Value)
	assert.Nil(t, panicErr.Unwrap())
}

func TestThread_UncaughtHandlerPanics(t *testing.T) {
	t.Parallel()

	th := goTest(t, func(*Thread) { panic("first") }, testOptions(t, WithUncaughtHandler(func(*Thread, error) {
		panic("second")
	}))...)
	joinTest(t, th)
	assert.Error(t, th.Err())
}

func TestThread_Goexit(t *testing.T) {
	t.Parallel()

	th := goTest(t, func(*Thread) { runtime.Goexit() }, testOptions(t)...)
	joinTest(t, th)
	assert.Equal(t, StateTerminated, th.State())
	assert.NoError(t, th.Err())
}

func TestThread_String(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, carrier.WithName("strpool"))
	inside := make(chan string, 1)
	release := make(chan struct{})
	th, err := New(func(th *Thread) {
		inside <- th.String()
		<-release
	}, WithScheduler(pool), WithTimers(newTestTimers(t)), WithName("named"))
	require.NoError(t, err)

	assert.Equal(t, "VirtualThread[#"+strconv.FormatUint(th.ID(), 10)+",named]/new", th.String())
	require.NoError(t, th.Start())

	s := <-inside
	assert.True(t, strings.HasPrefix(s, "VirtualThread[#"+strconv.FormatUint(th.ID(), 10)+",named]/runnable@strpool-worker-"), s)
	close(release)
	joinTest(t, th)
	assert.Equal(t, "VirtualThread[#"+strconv.FormatUint(th.ID(), 10)+",named]/terminated", th.String())

	unnamed, err := New(func(*Thread) {}, WithScheduler(pool), WithTimers(newTestTimers(t)))
	require.NoError(t, err)
	assert.Equal(t, "VirtualThread[#"+strconv.FormatUint(unnamed.ID(), 10)+"]/new", unnamed.String())
}

func TestThread_StartRejected(t *testing.T) {
	t.Parallel()

	pool, err := carrier.New(carrier.WithParallelism(1))
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	container := NewContainer("rejected")
	var ran atomic.Bool
	th, err := New(func(*Thread) { ran.Store(true) }, WithScheduler(pool), WithTimers(newTestTimers(t)), WithContainer(container))
	require.NoError(t, err)

	err = th.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, carrier.ErrPoolShutdown)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, th.ID(), rejected.ThreadID)

	assert.Equal(t, StateTerminated, th.State())
	assert.True(t, th.JoinTimeout(0))
	assert.Same(t, err, th.Err())
	assert.Equal(t, 0, container.Count())
	assert.False(t, ran.Load())

	_, err = Go(func(*Thread) {}, WithScheduler(pool), WithTimers(newTestTimers(t)))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestThread_JoinRace(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)

	const (
		iterations = 10_000
		workers    = 8
	)
	var wg sync.WaitGroup
	var hung atomic.Int64
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations/workers; i++ {
				th, err := Go(func(*Thread) {}, opts...)
				if err != nil {
					t.Error(err)
					return
				}
				if !th.JoinTimeout(testTimeout) {
					hung.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), hung.Load())
}

func TestThread_StateMonotonicity(t *testing.T) {
	t.Parallel()

	th := goTest(t, func(th *Thread) {
		for i := 0; i < 10; i++ {
			th.TryYield()
		}
	}, testOptions(t)...)

	waiters := make(chan bool, 8)
	for i := 0; i < cap(waiters); i++ {
		go func() { waiters <- th.JoinTimeout(testTimeout) }()
	}
	joinTest(t, th)
	for i := 0; i < cap(waiters); i++ {
		assert.True(t, <-waiters)
	}

	for i := 0; i < 100; i++ {
		th.Unpark()
		th.Interrupt()
		assert.Equal(t, stateTerminated, th.rawState())
	}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stateTerminated, th.rawState())
}

func TestThread_NoDoubleMount(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)

	const (
		threads    = 100
		iterations = 100
	)
	var violations atomic.Int64
	all := make([]*Thread, 0, threads)
	for i := 0; i < threads; i++ {
		var mounted atomic.Bool
		th, err := Go(func(th *Thread) {
			for j := 0; j < iterations; j++ {
				switch j % 3 {
				case 0:
					th.TryYield()
				case 1:
					th.ParkNanos(int64(time.Millisecond))
				default:
					th.Park()
				}
			}
		}, append(opts, WithObserver(ObserverFuncs{
			Mount: func(th *Thread, w *carrier.Worker) {
				if !mounted.CompareAndSwap(false, true) {
					violations.Add(1)
				}
				if w.Mounted() != th.ID() {
					violations.Add(1)
				}
			},
			Unmount: func(th *Thread, w *carrier.Worker) {
				if !mounted.CompareAndSwap(true, false) {
					violations.Add(1)
				}
			},
		}))...)
		require.NoError(t, err)
		all = append(all, th)
	}

	// racing unparkers, including duplicate unparks
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, th := range all {
					th.Unpark()
				}
			}
		}()
	}

	for _, th := range all {
		joinTest(t, th)
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, int64(0), violations.Load())
}

func TestThread_ManyParkedThreads(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)

	const n = 1_000
	var woke atomic.Int64
	all := make([]*Thread, n)
	for i := range all {
		all[i] = goTest(t, func(th *Thread) {
			th.Park()
			woke.Add(1)
		}, opts...)
	}

	// all parked, none holding a carrier
	require.Eventually(t, func() bool {
		for _, th := range all {
			if th.rawState() != stateParked {
				return false
			}
		}
		return true
	}, testTimeout, time.Millisecond)

	for _, th := range all {
		th.Unpark()
	}
	for _, th := range all {
		joinTest(t, th)
	}
	assert.Equal(t, int64(n), woke.Load())
}

func TestPanicError_Error(t *testing.T) {
	t.Parallel()

	err := &PanicError{Value: errors.New("x")}
	assert.Equal(t, "vthread: task panicked: x", err.Error())
}

func TestThreadState_String(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		state  threadState
		public ThreadState
		name   string
	}{
		{stateNew, StateNew, "NEW"},
		{stateStarted, StateRunnable, "STARTED"},
		{stateRunning, StateRunnable, "RUNNING"},
		{stateParking, StateRunnable, "PARKING"},
		{stateParked, StateWaiting, "PARKED"},
		{statePinned, StateWaiting, "PINNED"},
		{stateTimedParking, StateRunnable, "TIMED_PARKING"},
		{stateTimedParked, StateTimedWaiting, "TIMED_PARKED"},
		{stateTimedPinned, StateTimedWaiting, "TIMED_PINNED"},
		{stateUnparked, StateRunnable, "UNPARKED"},
		{stateYielding, StateRunnable, "YIELDING"},
		{stateYielded, StateRunnable, "YIELDED"},
		{stateTerminated, StateTerminated, "TERMINATED"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.name, tc.state.String())
			assert.Equal(t, tc.public, tc.state.public())
		})
	}
	assert.Equal(t, "UNKNOWN", threadState(42).String())
	assert.Equal(t, "UNKNOWN", ThreadState(42).String())
	assert.Panics(t, func() { threadState(42).public() })
}

func TestCurrent_PerGoroutine(t *testing.T) {
	t.Parallel()

	var (
		inside, spawned, after *Thread
		parkPanicked           bool
	)
	th := goTest(t, func(th *Thread) {
		inside = Current()
		done := make(chan struct{})
		go func() {
			defer close(done)
			spawned = Current()
			defer func() { parkPanicked = recover() == ErrNotCurrentThread }()
			th.Park()
		}()
		<-done
		after = Current()
	}, testOptions(t)...)
	joinTest(t, th)

	assert.Same(t, th, inside)
	assert.Nil(t, spawned, "goroutines started by a thread are not the thread")
	assert.True(t, parkPanicked)
	assert.Same(t, th, after)
	assert.Nil(t, Current())
}
