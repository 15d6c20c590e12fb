package carrier

import (
	"errors"
)

var (
	// ErrPoolShutdown is returned when submitting to a pool that has been
	// shut down.
	ErrPoolShutdown = errors.New("carrier: pool has been shut down")

	// ErrNilTask is returned when submitting a nil task.
	ErrNilTask = errors.New("carrier: nil task")
)
