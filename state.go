package vthread

import (
	"sync/atomic"
)

// threadState is the internal scheduling state of a Thread.
//
// State Machine:
//
//	NEW → STARTED                          [Start()]
//	STARTED|UNPARKED|YIELDED → RUNNING     [resumption task, via CAS]
//	RUNNING → PARKING|TIMED_PARKING        [Park(), ParkNanos()]
//	PARKING → PARKED                       [suspended]
//	TIMED_PARKING → TIMED_PARKED           [suspended]
//	PARKING|TIMED_PARKING → RUNNING        [pinned, could not suspend]
//	PARKED|TIMED_PARKED → UNPARKED         [Unpark(), via CAS]
//	RUNNING → PINNED|TIMED_PINNED          [parking on the carrier]
//	PINNED|TIMED_PINNED → RUNNING          [carrier park returned]
//	RUNNING → YIELDING                     [TryYield()]
//	YIELDING → YIELDED                     [suspended]
//	YIELDING → RUNNING                     [pinned, could not suspend]
//	* → TERMINATED                         [task returned, or forced]
//
// State Transition Rules:
//   - Use TryTransition() (CAS) where other goroutines may race
//   - Use Store() only from the goroutine that owns the transition (the
//     mounted thread, or the sole holder of the resumption task)
//   - TERMINATED is irreversible
type threadState uint32

const (
	stateNew          threadState = 0
	stateStarted      threadState = 1
	stateRunning      threadState = 2
	stateParking      threadState = 3
	stateParked       threadState = 4
	statePinned       threadState = 5
	stateTimedParking threadState = 6
	stateTimedParked  threadState = 7
	stateTimedPinned  threadState = 8
	stateUnparked     threadState = 9
	stateYielding     threadState = 10
	stateYielded      threadState = 11
	stateTerminated   threadState = 99
)

// String returns a human-readable representation of the state.
func (s threadState) String() string {
	switch s {
	case stateNew:
		return "NEW"
	case stateStarted:
		return "STARTED"
	case stateRunning:
		return "RUNNING"
	case stateParking:
		return "PARKING"
	case stateParked:
		return "PARKED"
	case statePinned:
		return "PINNED"
	case stateTimedParking:
		return "TIMED_PARKING"
	case stateTimedParked:
		return "TIMED_PARKED"
	case stateTimedPinned:
		return "TIMED_PINNED"
	case stateUnparked:
		return "UNPARKED"
	case stateYielding:
		return "YIELDING"
	case stateYielded:
		return "YIELDED"
	case stateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// threadStateWord is the lock-free state of a Thread, padded to avoid false
// sharing with the fields that are written on every park.
type threadStateWord struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint32 // threadState
	_ [60]byte      //nolint:unused
}

// Load returns the current state atomically.
func (s *threadStateWord) Load() threadState {
	return threadState(s.v.Load())
}

// Store atomically stores a new state, without validation.
func (s *threadStateWord) Store(state threadState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *threadStateWord) TryTransition(from, to threadState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// ThreadState is the externally visible state of a Thread.
type ThreadState int

const (
	// StateNew indicates the thread has not been started.
	StateNew ThreadState = iota
	// StateRunnable indicates the thread is running, or waiting to run.
	StateRunnable
	// StateWaiting indicates the thread is parked, without a timeout.
	StateWaiting
	// StateTimedWaiting indicates the thread is parked, with a timeout.
	StateTimedWaiting
	// StateTerminated indicates the thread has completed.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s ThreadState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateRunnable:
		return "RUNNABLE"
	case StateWaiting:
		return "WAITING"
	case StateTimedWaiting:
		return "TIMED_WAITING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

func (s threadState) public() ThreadState {
	switch s {
	case stateNew:
		return StateNew
	case stateStarted, stateRunning, stateUnparked, stateYielding, stateYielded:
		return StateRunnable
	case stateParking, stateTimedParking:
		// still mounted, may not suspend
		return StateRunnable
	case stateParked, statePinned:
		return StateWaiting
	case stateTimedParked, stateTimedPinned:
		return StateTimedWaiting
	case stateTerminated:
		return StateTerminated
	default:
		panic(`vthread: unknown state: ` + s.String())
	}
}
