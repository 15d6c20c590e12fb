package continuation

// Reason identifies why a continuation cannot be suspended.
type Reason uint8

const (
	// ReasonNone indicates the continuation is not pinned.
	ReasonNone Reason = iota
	// ReasonNative indicates the body is inside a native section.
	ReasonNative
	// ReasonMonitor indicates the body holds a pinning monitor.
	ReasonMonitor
	// ReasonCriticalSection indicates the body is inside a critical section.
	ReasonCriticalSection
)

// String returns a human-readable representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonNative:
		return "Native"
	case ReasonMonitor:
		return "Monitor"
	case ReasonCriticalSection:
		return "CriticalSection"
	default:
		return "Unknown"
	}
}

// Pin enters a critical section, during which Yield will refuse to suspend.
// Critical sections nest, and each Pin must be balanced by an Unpin.
func (c *Continuation) Pin() { c.critical.Add(1) }

// Unpin exits a critical section entered by Pin.
func (c *Continuation) Unpin() { release(&c.critical, "Unpin") }

// EnterMonitor records that the body acquired a pinning monitor.
func (c *Continuation) EnterMonitor() { c.monitors.Add(1) }

// ExitMonitor records that the body released a pinning monitor.
func (c *Continuation) ExitMonitor() { release(&c.monitors, "ExitMonitor") }

// EnterNative records that the body entered a native section.
func (c *Continuation) EnterNative() { c.native.Add(1) }

// ExitNative records that the body exited a native section.
func (c *Continuation) ExitNative() { release(&c.native, "ExitNative") }

// PinnedReason returns the reason the continuation cannot currently be
// suspended, or ReasonNone. Native sections take precedence over monitors,
// which take precedence over critical sections.
func (c *Continuation) PinnedReason() Reason {
	switch {
	case c.native.Load() > 0:
		return ReasonNative
	case c.monitors.Load() > 0:
		return ReasonMonitor
	case c.critical.Load() > 0:
		return ReasonCriticalSection
	default:
		return ReasonNone
	}
}

type counter interface {
	Add(delta int32) int32
}

func release(c counter, method string) {
	if c.Add(-1) < 0 {
		c.Add(1)
		panic("continuation: unbalanced " + method)
	}
}
