// Package carrier provides the pool of carrier workers that execute the
// resumption tasks of logical threads.
//
// # Architecture
//
// A [Pool] owns up to MaxPoolSize workers, of which Parallelism are core
// workers, started on demand. Each [Worker] has a private, bounded, lock-free
// run queue (single producer, multiple consumers), and all workers share an
// unbounded external submission queue. A worker looks for work in order:
//
//  1. the external queue, every 61st task, for fairness
//  2. its own run queue
//  3. the external queue, moving a batch into its run queue
//  4. the run queues of other workers, stealing half
//
// Workers with nothing to do park until signaled. Spare workers (beyond
// Parallelism) retire after KeepAlive.
//
// # Submission
//
// Four entry points cover the scheduling strategies of logical threads:
//   - [Pool.Submit]: from any goroutine, via the external queue
//   - [Pool.SubmitFrom]: from a task running on a worker, via that worker's
//     run queue, signaling an idle worker to steal
//   - [Pool.LazySubmit]: as SubmitFrom, without signaling, for a worker that
//     will pick the task up itself
//   - [Pool.ExternalSubmit]: always via the external queue, i.e. to the back
//     of the line
//
// # Blocking
//
// A task that must block its worker (e.g. a pinned logical thread) brackets
// the block with [Pool.BeginBlocking] and [Pool.EndBlocking]. If the number of
// unblocked workers drops below MinRunnable, a spare worker is started, up to
// MaxPoolSize.
package carrier
