package vthread

import (
	"time"

	"github.com/joeycumines/go-vthread/carrier"
)

// Park disables the thread for scheduling, unless the permit is available,
// in which case it is consumed, and Park returns immediately. It also
// returns immediately if the thread is interrupted. Otherwise, the thread
// suspends, releasing its carrier, until unparked (or interrupted). If the
// thread is pinned, it instead blocks its carrier.
//
// As with any park, it may return spuriously, so callers must re-check
// their condition. Park must be called by the thread itself, or it panics
// with ErrNotCurrentThread.
func (t *Thread) Park() {
	t.checkCurrent()

	// complete immediately if the permit is available, or interrupted
	if t.permit.Swap(false) || t.interrupted.Load() || t.cont.Abandoned() {
		return
	}

	t.state.Store(stateParking)
	yielded := t.yieldContinuation()
	if !yielded {
		t.state.Store(stateRunning)
		t.parkOnCarrierThread(false, 0)
	}
}

// ParkNanos is Park, for up to nanos nanoseconds. A nanos <= 0 returns
// immediately, though the permit (if available) is still consumed.
func (t *Thread) ParkNanos(nanos int64) {
	t.checkCurrent()

	if t.permit.Swap(false) || t.interrupted.Load() || t.cont.Abandoned() {
		return
	}
	if nanos <= 0 {
		return
	}

	start := time.Now()
	d := time.Duration(nanos)
	unparker := t.timers.ScheduleKeyed(t.id, t.Unpark, d)
	if err := unparker.Err(); err != nil {
		// nothing would unpark a suspended thread, so wait on the carrier
		t.logger.Warning().
			Str(`thread`, t.String()).
			Err(err).
			Log(`timer unavailable, timed park blocks carrier`)
		t.parkOnCarrierThread(true, d)
		return
	}
	t.state.Store(stateTimedParking)
	yielded := t.yieldContinuation()
	if !yielded {
		t.state.Store(stateRunning)
	}
	unparker.Cancel()

	if !yielded {
		// park on the carrier for the remaining time
		t.parkOnCarrierThread(true, d-time.Since(start))
	}
}

// ParkTimeout is ParkNanos, accepting a time.Duration.
func (t *Thread) ParkTimeout(d time.Duration) {
	t.ParkNanos(int64(d))
}

// parkOnCarrierThread blocks the carrier, for a thread that could not
// suspend. The pool is informed, so it may start a spare carrier.
func (t *Thread) parkOnCarrierThread(timed bool, d time.Duration) {
	// discard a wakeup left over from a previous park
	select {
	case <-t.parker:
	default:
	}

	w := t.carrier
	if timed {
		t.state.Store(stateTimedPinned)
	} else {
		t.state.Store(statePinned)
	}
	if h := t.testHooks; h != nil && h.PrePinnedPark != nil {
		h.PrePinnedPark()
	}

	if !t.permit.Load() && !t.interrupted.Load() {
		t.scheduler.BeginBlocking(w)
		switch {
		case !timed:
			<-t.parker
		case d > 0:
			timer := time.NewTimer(d)
			select {
			case <-t.parker:
			case <-timer.C:
			}
			timer.Stop()
		}
		t.scheduler.EndBlocking(w)
	}

	t.state.Store(stateRunning)
	// consume the permit
	t.permit.Store(false)
}

// yieldContinuation unmounts the thread and suspends it, then mounts it
// again once resumed, on whichever carrier resumed it. If the thread could
// not suspend, it returns false, having mounted again on the same carrier.
func (t *Thread) yieldContinuation() bool {
	w := t.carrier
	t.unmount()
	yielded := t.cont.Yield()
	if !yielded {
		t.nextCarrier = w
	}
	t.mount()
	return yielded
}

// afterYield is called on the carrier, w, after the thread suspends.
func (t *Thread) afterYield(w *carrier.Worker) {
	switch s := t.state.Load(); s {
	case stateParking, stateTimedParking:
		parked := stateParked
		if s == stateTimedParking {
			parked = stateTimedParked
		}
		t.state.Store(parked)

		// may have been unparked while parking
		if t.permit.Load() && t.state.TryTransition(parked, stateUnparked) {
			// continue on this carrier, if it has nothing else to do
			var err error
			if w.QueuedTaskCount() == 0 {
				err = t.scheduler.LazySubmit(w, t.runTask)
			} else {
				err = t.scheduler.SubmitFrom(w, t.runTask)
			}
			if err != nil {
				t.submitFailed(err)
			}
		}

	case stateYielding:
		t.state.Store(stateYielded)

		// to the back of the line, if there's nothing else local
		var err error
		if w.QueuedTaskCount() == 0 {
			err = t.scheduler.ExternalSubmit(t.runTask)
		} else {
			err = t.scheduler.SubmitFrom(w, t.runTask)
		}
		if err != nil {
			t.submitFailed(err)
		}

	default:
		panic(`vthread: unexpected state after yield: ` + s.String())
	}
}

// Unpark makes the permit available, if it was not already. If the thread
// was parked, it is resubmitted to its scheduler, or if it was parked
// pinned, its carrier is woken. May be called from any goroutine.
//
// If resubmission is rejected by the scheduler, the thread is terminated.
func (t *Thread) Unpark() {
	if t.permit.Swap(true) {
		return
	}
	caller := Current()
	if caller == t {
		return
	}

	switch s := t.state.Load(); s {
	case stateParked, stateTimedParked:
		if !t.state.TryTransition(s, stateUnparked) {
			return
		}
		var err error
		if caller != nil && caller.carrier != nil {
			// local to the caller's carrier, if it is in the same pool
			err = t.scheduler.SubmitFrom(caller.carrier, t.runTask)
		} else {
			err = t.scheduler.Submit(t.runTask)
		}
		if err != nil {
			t.submitFailed(err)
		}

	case statePinned, stateTimedPinned:
		t.carrierMu.Lock()
		defer t.carrierMu.Unlock()
		if t.carrier != nil {
			if s := t.state.Load(); s == statePinned || s == stateTimedPinned {
				select {
				case t.parker <- struct{}{}:
				default:
				}
			}
		}
	}
}

// TryYield suspends the thread, resubmitting it to its scheduler, so other
// threads may run. It does nothing if the thread is pinned. Must be called
// by the thread itself.
func (t *Thread) TryYield() {
	t.checkCurrent()
	if t.cont.Abandoned() {
		return
	}
	t.state.Store(stateYielding)
	if !t.yieldContinuation() {
		t.state.Store(stateRunning)
	}
}

// Sleep parks the thread for at least d, returning ErrInterrupted (and
// clearing the interrupt status) if the thread is, or becomes,
// interrupted. If the thread is being forcibly terminated, Sleep returns
// its *RejectedError early. A d <= 0 yields. Must be called by the thread
// itself.
func (t *Thread) Sleep(d time.Duration) error {
	t.checkCurrent()
	if t.Interrupted() {
		return ErrInterrupted
	}
	if d <= 0 {
		t.TryYield()
		return nil
	}
	// may have been unparked while sleeping
	defer t.permit.Store(true)
	start := time.Now()
	for remaining := d; remaining > 0; remaining = d - time.Since(start) {
		t.ParkNanos(int64(remaining))
		if t.cont.Abandoned() {
			// unwinding a forced termination, parks return immediately
			return t.err
		}
		if t.Interrupted() {
			return ErrInterrupted
		}
	}
	return nil
}
