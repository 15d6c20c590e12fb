// Package continuation implements a suspendable call stack: a task function
// that can be suspended at a [Continuation.Yield] call and later resumed,
// exactly where it left off, by a subsequent [Continuation.Run], possibly
// from a different goroutine each time.
//
// # Execution Model
//
// Each continuation owns a dedicated goroutine, which is started lazily on
// the first Run. Control is handed between the goroutine calling Run (the
// runner) and the continuation's goroutine (the body) over a pair of
// channels, such that at most one of them executes at any instant. Run
// returns when the body yields or completes.
//
// # Pinning
//
// Suspension is refused while the body is pinned, which is any of:
//   - inside a native section ([Continuation.EnterNative]), e.g. the body has
//     locked its goroutine to an OS thread
//   - holding a pinning monitor ([Continuation.EnterMonitor])
//   - inside an explicit critical section ([Continuation.Pin])
//
// A refused Yield returns false, without suspending, after invoking the
// callback configured by [WithOnPinned]. The caller is expected to block by
// other means, e.g. on the OS thread.
package continuation
