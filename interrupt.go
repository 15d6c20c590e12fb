package vthread

// Interrupt sets the thread's interrupt status, and unparks it. The status
// is mirrored to the thread's carrier while mounted, and synchronized on
// the next mount otherwise.
func (t *Thread) Interrupt() {
	t.carrierMu.Lock()
	t.interrupted.Store(true)
	if w := t.carrier; w != nil {
		w.SetInterrupt()
	}
	t.carrierMu.Unlock()
	t.Unpark()
}

// IsInterrupted reports the thread's interrupt status, without clearing it.
func (t *Thread) IsInterrupted() bool {
	return t.interrupted.Load()
}

// Interrupted reports and clears the thread's interrupt status. Must be
// called by the thread itself.
func (t *Thread) Interrupted() bool {
	t.checkCurrent()
	if !t.interrupted.Load() {
		return false
	}
	t.carrierMu.Lock()
	t.interrupted.Store(false)
	if w := t.carrier; w != nil {
		w.ClearInterrupt()
	}
	t.carrierMu.Unlock()
	return true
}
