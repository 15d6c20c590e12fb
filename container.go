package vthread

import (
	"context"
	"slices"
	"sync"
)

// Container tracks the lifecycle of the threads started in it. OnStart is
// called once, by Start, before the thread is first scheduled, and OnExit
// once, after it terminates (including if it was rejected by the
// scheduler). Implementations must be safe for concurrent use.
type Container interface {
	OnStart(t *Thread)
	OnExit(t *Thread)
}

// TrackingContainer is a Container that records its live threads, and
// supports waiting for them to exit.
type TrackingContainer struct {
	name    string
	mu      sync.Mutex
	threads map[*Thread]struct{}
	// closed when threads is empty
	empty chan struct{}
}

var _ Container = (*TrackingContainer)(nil)

var rootContainer = NewContainer(`root`)

// RootContainer returns the container used by threads started without an
// explicit container.
func RootContainer() *TrackingContainer {
	return rootContainer
}

// NewContainer creates a new TrackingContainer.
func NewContainer(name string) *TrackingContainer {
	empty := make(chan struct{})
	close(empty)
	return &TrackingContainer{
		name:    name,
		threads: make(map[*Thread]struct{}),
		empty:   empty,
	}
}

// Name returns the container's name.
func (c *TrackingContainer) Name() string { return c.name }

// OnStart implements Container.
func (c *TrackingContainer) OnStart(t *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.threads) == 0 {
		c.empty = make(chan struct{})
	}
	c.threads[t] = struct{}{}
}

// OnExit implements Container.
func (c *TrackingContainer) OnExit(t *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.threads[t]; !ok {
		return
	}
	delete(c.threads, t)
	if len(c.threads) == 0 {
		close(c.empty)
	}
}

// Count returns the number of live threads.
func (c *TrackingContainer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.threads)
}

// Threads returns a snapshot of the live threads, ordered by ID.
func (c *TrackingContainer) Threads() []*Thread {
	c.mu.Lock()
	threads := make([]*Thread, 0, len(c.threads))
	for t := range c.threads {
		threads = append(threads, t)
	}
	c.mu.Unlock()
	slices.SortFunc(threads, func(a, b *Thread) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})
	return threads
}

// Wait blocks until the container has no live threads, or ctx is done.
func (c *TrackingContainer) Wait(ctx context.Context) error {
	c.mu.Lock()
	empty := c.empty
	c.mu.Unlock()
	select {
	case <-empty:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
