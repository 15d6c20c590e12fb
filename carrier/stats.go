package carrier

import (
	"sync/atomic"
)

type poolStats struct {
	submitted atomic.Uint64
	external  atomic.Uint64
	lazy      atomic.Uint64
	stolen    atomic.Uint64
	executed  atomic.Uint64
	panicked  atomic.Uint64
	spawned   atomic.Uint64
	retired   atomic.Uint64
	rejected  atomic.Uint64
}

// Stats is a point in time snapshot of pool counters.
type Stats struct {
	// Submitted is the number of accepted tasks.
	Submitted uint64
	// External is the number of tasks that went through the external queue,
	// including those submitted from outside the pool.
	External uint64
	// Lazy is the number of tasks accepted by LazySubmit.
	Lazy uint64
	// Stolen is the number of successful steals (each may move many tasks).
	Stolen uint64
	// Executed is the number of tasks run by workers.
	Executed uint64
	// Panicked is the number of tasks that panicked.
	Panicked uint64
	// SparesSpawned is the number of workers started to compensate for
	// blocked workers.
	SparesSpawned uint64
	// SparesRetired is the number of workers that exited after KeepAlive.
	SparesRetired uint64
	// Rejected is the number of submissions rejected after shutdown.
	Rejected uint64

	// Workers is the current number of workers.
	Workers int
	// Idle is the current number of parked workers.
	Idle int
	// Blocked is the current number of workers between BeginBlocking and
	// EndBlocking.
	Blocked int
	// Queued is the approximate number of tasks waiting in all queues.
	Queued int
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		Submitted:     p.stats.submitted.Load(),
		External:      p.stats.external.Load(),
		Lazy:          p.stats.lazy.Load(),
		Stolen:        p.stats.stolen.Load(),
		Executed:      p.stats.executed.Load(),
		Panicked:      p.stats.panicked.Load(),
		SparesSpawned: p.stats.spawned.Load(),
		SparesRetired: p.stats.retired.Load(),
		Rejected:      p.stats.rejected.Load(),
		Workers:       int(p.total.Load()),
		Idle:          int(p.nidle.Load()),
		Blocked:       int(p.blocked.Load()),
		Queued:        int(p.extLen.Load()),
	}
	for _, w := range *p.workers.Load() {
		s.Queued += w.runq.len()
	}
	return s
}
