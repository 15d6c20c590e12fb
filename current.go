package vthread

import (
	"runtime"
	"sync"
	"time"

	"github.com/joeycumines/goroutineid"
)

// threads maps the goroutine ID of each running task to its Thread.
var threads sync.Map

func setCurrent(t *Thread) {
	threads.Store(t.goid.Load(), t)
}

func clearCurrent(t *Thread) {
	threads.CompareAndDelete(t.goid.Load(), t)
}

// Current returns the thread that is calling, or nil if the caller is not
// running as a Thread.
func Current() *Thread {
	if v, ok := threads.Load(goroutineid.Get()); ok {
		return v.(*Thread)
	}
	return nil
}

func mustCurrent() *Thread {
	t := Current()
	if t == nil {
		panic(ErrNotCurrentThread)
	}
	return t
}

// Park parks the current thread, see Thread.Park. It panics with
// ErrNotCurrentThread if the caller is not running as a Thread.
func Park() {
	mustCurrent().Park()
}

// ParkNanos parks the current thread for up to nanos nanoseconds, see
// Thread.ParkNanos. It panics with ErrNotCurrentThread if the caller is not
// running as a Thread.
func ParkNanos(nanos int64) {
	mustCurrent().ParkNanos(nanos)
}

// Yield yields the current thread, see Thread.TryYield. Outside a thread it
// yields the goroutine, via runtime.Gosched.
func Yield() {
	if t := Current(); t != nil {
		t.TryYield()
		return
	}
	runtime.Gosched()
}

// Sleep sleeps the current thread, see Thread.Sleep. Outside a thread it
// behaves like time.Sleep, and always returns nil.
func Sleep(d time.Duration) error {
	if t := Current(); t != nil {
		return t.Sleep(d)
	}
	time.Sleep(d)
	return nil
}
