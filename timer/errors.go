package timer

import (
	"errors"
)

// ErrStopped is reported by timers scheduled after (or cancelled by) Stop.
var ErrStopped = errors.New("timer: scheduler stopped")
