// Package vthread implements lightweight (virtual) threads, multiplexed
// onto a pool of carrier goroutines, using continuations.
//
// A [Thread] wraps a task in a [continuation.Continuation]. Each time it is
// scheduled, a carrier [carrier.Worker] mounts the thread, and runs the
// continuation until the task parks, yields, or returns. A parked thread
// holds no carrier: [Thread.Unpark] resubmits it to its scheduler, which
// may resume it on any carrier.
//
// # Parking
//
// [Thread.Park] and [Thread.ParkNanos] implement permit semantics, as per
// LockSupport-style parking: an unpark that happens before the matching park
// is not lost, but is recorded as a single permit, which the park consumes.
// Timed parks race a timer (see package timer) against unpark.
//
// # Pinning
//
// A thread that is inside a critical section ([Thread.Pinned]), holds a
// [Monitor], or has locked its OS thread ([Thread.LockOSThread]) cannot
// suspend. Parking a pinned thread blocks its carrier instead, and the
// carrier pool may start a spare carrier to compensate. Pinned parks are
// reported to the [Observer] (if any), and logged, at a limited rate.
//
// # Scheduling
//
// Threads created without [WithScheduler] run on [DefaultScheduler], which
// is configured from the environment, see [SchedulerConfigFromEnv].
package vthread
