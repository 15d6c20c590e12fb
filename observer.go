package vthread

import (
	"github.com/joeycumines/go-vthread/carrier"
	"github.com/joeycumines/go-vthread/continuation"
)

// Observer receives notifications of a thread's scheduling events. All
// methods are called synchronously, on the thread, and must not park.
type Observer interface {
	// OnMount is called after the thread is mounted on a carrier.
	OnMount(t *Thread, w *carrier.Worker)
	// OnUnmount is called before the thread is unmounted from a carrier.
	OnUnmount(t *Thread, w *carrier.Worker)
	// OnPinned is called when the thread could not suspend, and will
	// instead continue to run on (or block) its carrier.
	OnPinned(t *Thread, reason continuation.Reason)
}

// ObserverFuncs implements Observer, ignoring events with nil funcs.
type ObserverFuncs struct {
	Mount   func(t *Thread, w *carrier.Worker)
	Unmount func(t *Thread, w *carrier.Worker)
	Pinned  func(t *Thread, reason continuation.Reason)
}

var _ Observer = ObserverFuncs{}

// OnMount implements Observer.
func (x ObserverFuncs) OnMount(t *Thread, w *carrier.Worker) {
	if x.Mount != nil {
		x.Mount(t, w)
	}
}

// OnUnmount implements Observer.
func (x ObserverFuncs) OnUnmount(t *Thread, w *carrier.Worker) {
	if x.Unmount != nil {
		x.Unmount(t, w)
	}
}

// OnPinned implements Observer.
func (x ObserverFuncs) OnPinned(t *Thread, reason continuation.Reason) {
	if x.Pinned != nil {
		x.Pinned(t, reason)
	}
}
