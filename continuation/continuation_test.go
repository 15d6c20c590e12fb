package continuation

import (
	"errors"
	"io"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContinuation_runYieldResume(t *testing.T) {
	t.Parallel()

	var steps []int
	var c *Continuation
	c = New(func() {
		steps = append(steps, 1)
		require.True(t, c.Yield())
		steps = append(steps, 2)
		require.True(t, c.Yield())
		steps = append(steps, 3)
	})

	c.Run()
	assert.Equal(t, []int{1}, steps)
	assert.False(t, c.IsDone())

	c.Run()
	assert.Equal(t, []int{1, 2}, steps)
	assert.False(t, c.IsDone())

	c.Run()
	assert.Equal(t, []int{1, 2, 3}, steps)
	assert.True(t, c.IsDone())
}

func TestContinuation_resumeFromDifferentGoroutines(t *testing.T) {
	t.Parallel()

	const yields = 50
	var count int
	var c *Continuation
	c = New(func() {
		for range yields {
			count++
			c.Yield()
		}
	})

	for !c.IsDone() {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run()
		}()
		wg.Wait()
	}
	if count != yields {
		t.Fatalf("expected %d iterations, got %d", yields, count)
	}
}

func TestContinuation_runAfterDonePanics(t *testing.T) {
	t.Parallel()

	c := New(func() {})
	c.Run()
	require.True(t, c.IsDone())
	assert.PanicsWithValue(t, ErrDone, func() { c.Run() })
}

func TestContinuation_concurrentRunPanics(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	c := New(func() {
		close(entered)
		<-release
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run()
	}()
	<-entered

	assert.PanicsWithValue(t, ErrRunning, func() { c.Run() })

	close(release)
	<-done
	assert.True(t, c.IsDone())
}

func TestContinuation_yieldOutsideBodyPanics(t *testing.T) {
	t.Parallel()

	var c *Continuation
	c = New(func() { c.Yield() })
	assert.PanicsWithValue(t, ErrNotInContinuation, func() { c.Yield() })
}

func TestContinuation_panicPropagatesToRunner(t *testing.T) {
	t.Parallel()

	c := New(func() { panic(io.EOF) })

	defer func() {
		r := recover()
		require.NotNil(t, r)
		var p *PanicError
		require.True(t, errors.As(r.(error), &p))
		assert.Equal(t, io.EOF, p.Value)
		assert.ErrorIs(t, p, io.EOF)
		assert.NotEmpty(t, p.Stack)
		assert.True(t, c.IsDone())
	}()
	c.Run()
	t.Fatal("expected panic")
}

func TestContinuation_goexitCompletes(t *testing.T) {
	t.Parallel()

	var deferred bool
	c := New(func() {
		defer func() { deferred = true }()
		runtime.Goexit()
	})
	c.Run()
	assert.True(t, c.IsDone())
	assert.True(t, deferred)
}

func TestContinuation_pinnedYieldRefused(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		enter  func(c *Continuation)
		exit   func(c *Continuation)
		reason Reason
	}{
		{"critical section", (*Continuation).Pin, (*Continuation).Unpin, ReasonCriticalSection},
		{"monitor", (*Continuation).EnterMonitor, (*Continuation).ExitMonitor, ReasonMonitor},
		{"native", (*Continuation).EnterNative, (*Continuation).ExitNative, ReasonNative},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var reasons []Reason
			var pinnedResult, unpinnedResult bool
			var c *Continuation
			c = New(func() {
				tc.enter(c)
				pinnedResult = c.Yield()
				tc.exit(c)
				unpinnedResult = c.Yield()
			}, WithOnPinned(func(reason Reason) {
				reasons = append(reasons, reason)
			}))

			c.Run()
			assert.False(t, c.IsDone())
			assert.False(t, pinnedResult)
			assert.Equal(t, []Reason{tc.reason}, reasons)

			c.Run()
			assert.True(t, c.IsDone())
			assert.True(t, unpinnedResult)
		})
	}
}

func TestContinuation_pinnedReasonPrecedence(t *testing.T) {
	t.Parallel()

	c := New(func() {})
	assert.Equal(t, ReasonNone, c.PinnedReason())
	c.Pin()
	assert.Equal(t, ReasonCriticalSection, c.PinnedReason())
	c.EnterMonitor()
	assert.Equal(t, ReasonMonitor, c.PinnedReason())
	c.EnterNative()
	assert.Equal(t, ReasonNative, c.PinnedReason())
	c.ExitNative()
	c.ExitMonitor()
	c.Unpin()
	assert.Equal(t, ReasonNone, c.PinnedReason())

	assert.Panics(t, func() { c.Unpin() })
	assert.Equal(t, ReasonNone, c.PinnedReason())
}

func TestContinuation_abandonSuspended(t *testing.T) {
	t.Parallel()

	var deferred, resumed bool
	var c *Continuation
	c = New(func() {
		defer func() { deferred = true }()
		c.Yield()
		resumed = true
	})

	c.Run()
	require.False(t, c.IsDone())

	c.Abandon()
	assert.True(t, c.IsDone())
	assert.True(t, c.Abandoned())
	assert.True(t, deferred)
	assert.False(t, resumed)

	assert.PanicsWithValue(t, ErrDone, func() { c.Run() })
}

func TestContinuation_abandonNotStarted(t *testing.T) {
	t.Parallel()

	var ran bool
	c := New(func() { ran = true })
	c.Abandon()
	assert.True(t, c.IsDone())
	assert.True(t, c.Abandoned())
	assert.False(t, ran)
}

func TestContinuation_abandonDoneIsNoop(t *testing.T) {
	t.Parallel()

	c := New(func() {})
	c.Run()
	c.Abandon()
	assert.False(t, c.Abandoned())
}

func TestContinuation_yieldDuringAbandonRefused(t *testing.T) {
	t.Parallel()

	var second bool
	var c *Continuation
	c = New(func() {
		defer func() { second = c.Yield() }()
		c.Yield()
	})
	c.Run()
	c.Abandon()
	assert.True(t, c.IsDone())
	assert.False(t, second)
}

func TestNew_nilTaskPanics(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}

func TestReason_String(t *testing.T) {
	for reason, want := range map[Reason]string{
		ReasonNone:            "None",
		ReasonNative:          "Native",
		ReasonMonitor:         "Monitor",
		ReasonCriticalSection: "CriticalSection",
		Reason(200):           "Unknown",
	} {
		if got := reason.String(); got != want {
			t.Errorf("Reason(%d).String() = %q, want %q", reason, got, want)
		}
	}
}
