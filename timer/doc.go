// Package timer provides a sharded delayed-task scheduler, used to wake
// logical threads that park with a timeout.
//
// A [Scheduler] runs one goroutine per shard, each owning a min-heap of
// pending timers, ordered by deadline. Callers that schedule on behalf of a
// particular entity (e.g. a thread ID) may pick the shard by key, with
// [Scheduler.ScheduleKeyed], to spread contention.
//
// Timer callbacks run on the shard goroutine, so must be short and must not
// block. A callback that panics is recovered, and logged.
package timer
