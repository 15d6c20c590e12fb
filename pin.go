package vthread

import (
	"runtime"
	"sync"

	"github.com/joeycumines/go-vthread/continuation"
)

// Pinned runs fn in a critical section, during which the thread will not
// suspend: parking blocks its carrier instead. Must be called by the
// thread itself.
func (t *Thread) Pinned(fn func()) {
	t.checkCurrent()
	t.cont.Pin()
	defer t.cont.Unpin()
	fn()
}

// PinnedReason returns the reason the thread cannot currently suspend, if
// any. Must be called by the thread itself.
func (t *Thread) PinnedReason() continuation.Reason {
	t.checkCurrent()
	return t.cont.PinnedReason()
}

// LockOSThread wires the thread's goroutine to its current OS thread, see
// runtime.LockOSThread. While locked, the thread is pinned. Calls nest, and
// must be balanced by UnlockOSThread. Must be called by the thread itself.
func (t *Thread) LockOSThread() {
	t.checkCurrent()
	runtime.LockOSThread()
	t.cont.EnterNative()
}

// UnlockOSThread reverses LockOSThread.
func (t *Thread) UnlockOSThread() {
	t.checkCurrent()
	t.cont.ExitNative()
	runtime.UnlockOSThread()
}

// Monitor is a mutual exclusion lock that pins the holding thread, so it
// cannot suspend (releasing its carrier) while holding the lock. It may
// also be used by goroutines that are not threads.
//
// A thread that blocks acquiring a Monitor blocks its carrier, which is
// reported to the scheduler, so it may compensate. The zero value is an
// unlocked Monitor.
type Monitor struct {
	mu sync.Mutex
}

// Lock acquires the monitor.
func (m *Monitor) Lock() {
	t := Current()
	if t == nil {
		m.mu.Lock()
		return
	}
	if !m.mu.TryLock() {
		w := t.carrier
		t.scheduler.BeginBlocking(w)
		m.mu.Lock()
		t.scheduler.EndBlocking(w)
	}
	t.cont.EnterMonitor()
}

// Unlock releases the monitor. A monitor locked by a thread must be
// unlocked by that thread.
func (m *Monitor) Unlock() {
	if t := Current(); t != nil {
		t.cont.ExitMonitor()
	}
	m.mu.Unlock()
}
