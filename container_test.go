package vthread

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingContainer(t *testing.T) {
	t.Parallel()

	c := NewContainer(`tracked`)
	assert.Equal(t, `tracked`, c.Name())
	assert.Equal(t, 0, c.Count())
	require.NoError(t, c.Wait(context.Background()), "empty containers do not block")

	opts := testOptions(t)
	var threads []*Thread
	for i := 0; i < 5; i++ {
		th, err := New(func(th *Thread) { th.Park() }, opts...)
		require.NoError(t, err)
		require.NoError(t, th.StartIn(c))
		threads = append(threads, th)
	}
	assert.Equal(t, 5, c.Count())
	live := c.Threads()
	require.Len(t, live, 5)
	for i := 1; i < len(live); i++ {
		assert.Less(t, live[i-1].ID(), live[i].ID())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)

	for _, th := range threads {
		th.Unpark()
	}
	ctx, cancel = context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	assert.Equal(t, 0, c.Count())
	assert.Empty(t, c.Threads())
}

func TestTrackingContainer_Reuse(t *testing.T) {
	t.Parallel()

	c := NewContainer(`reused`)
	opts := testOptions(t, WithContainer(c))
	for i := 0; i < 3; i++ {
		th := goTest(t, func(*Thread) {}, opts...)
		joinTest(t, th)
		require.NoError(t, c.Wait(context.Background()))
	}
	assert.Equal(t, 0, c.Count())
}

func TestTrackingContainer_Concurrent(t *testing.T) {
	t.Parallel()

	c := NewContainer(`concurrent`)
	opts := testOptions(t, WithContainer(c))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := Go(func(th *Thread) { th.TryYield() }, opts...)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestRootContainer(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	th := goTest(t, func(*Thread) {
		close(started)
		<-release
	}, testOptions(t)...)
	<-started
	assert.Contains(t, RootContainer().Threads(), th)
	close(release)
	joinTest(t, th)
	// exit is reported after the thread is observably terminated
	assert.Eventually(t, func() bool {
		return !slices.Contains(RootContainer().Threads(), th)
	}, testTimeout, time.Millisecond)
}

type recordingContainer struct {
	mu     sync.Mutex
	events []string
}

func (x *recordingContainer) OnStart(t *Thread) { x.record(`start ` + t.Name()) }
func (x *recordingContainer) OnExit(t *Thread)  { x.record(`exit ` + t.Name()) }

func (x *recordingContainer) record(s string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.events = append(x.events, s)
}

func TestContainer_Custom(t *testing.T) {
	t.Parallel()

	var c recordingContainer
	th := goTest(t, func(th *Thread) {
		c.record(`run ` + th.Name())
	}, testOptions(t, WithName(`a`), WithContainer(&c))...)
	joinTest(t, th)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.events) == 3
	}, testTimeout, time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []string{`start a`, `run a`, `exit a`}, c.events)
}
