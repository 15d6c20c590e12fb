package carrier

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// fairnessInterval is the number of tasks a worker runs between checks of
// the external queue ahead of its own run queue.
const fairnessInterval = 61

// Worker is a carrier: a goroutine (optionally locked to an OS thread) that
// executes tasks for a Pool. A Worker is passed to each Task it executes.
type Worker struct { // betteralign:ignore
	pool *Pool
	name string
	id   int

	runq runq

	// wake is signaled (non-blocking) to unpark an idle worker
	wake chan struct{}

	tid         atomic.Int64
	mounted     atomic.Uint64
	interrupted atomic.Bool
	blocking    atomic.Bool

	// worker goroutine only
	tick uint32
	rand uint32

	// guarded by Pool.mu
	idle bool
}

// Pool returns the pool that owns the worker.
func (w *Worker) Pool() *Pool { return w.pool }

// Name returns the worker's name, e.g. "vthread-pool-1-worker-3".
func (w *Worker) Name() string { return w.name }

// ID returns the worker's sequence number within its pool, starting at 1.
func (w *Worker) ID() int { return w.id }

// ThreadID returns the ID of the OS thread the worker is locked to, or 0 if
// the worker is not locked (see WithLockOSThread), or the platform doesn't
// support it.
func (w *Worker) ThreadID() int { return int(w.tid.Load()) }

// QueuedTaskCount returns the approximate number of tasks in the worker's
// run queue.
func (w *Worker) QueuedTaskCount() int { return w.runq.len() }

// Mount records that the logical thread with the given (non-zero) ID is
// running on the worker. It returns false if another thread is already
// mounted, in which case the caller must not proceed.
func (w *Worker) Mount(threadID uint64) bool {
	return w.mounted.CompareAndSwap(0, threadID)
}

// Unmount reverses a successful Mount.
func (w *Worker) Unmount(threadID uint64) bool {
	return w.mounted.CompareAndSwap(threadID, 0)
}

// Mounted returns the ID of the mounted logical thread, or 0.
func (w *Worker) Mounted() uint64 { return w.mounted.Load() }

// IsBlocking reports whether the worker is between BeginBlocking and
// EndBlocking.
func (w *Worker) IsBlocking() bool { return w.blocking.Load() }

// SetInterrupt sets the worker's interrupt status.
func (w *Worker) SetInterrupt() { w.interrupted.Store(true) }

// ClearInterrupt clears the worker's interrupt status.
func (w *Worker) ClearInterrupt() { w.interrupted.Store(false) }

// IsInterrupted returns the worker's interrupt status, which mirrors that
// of the mounted logical thread.
func (w *Worker) IsInterrupted() bool { return w.interrupted.Load() }

// String returns the worker's name.
func (w *Worker) String() string {
	if w == nil {
		return "<nil>"
	}
	return w.name
}

func newWorker(p *Pool, id int) *Worker {
	return &Worker{
		pool: p,
		id:   id,
		name: fmt.Sprintf("%s-worker-%d", p.name, id),
		wake: make(chan struct{}, 1),
		rand: uint32(id)*0x9E3779B9 + 1,
	}
}

func (w *Worker) run() error {
	p := w.pool

	if p.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		w.tid.Store(int64(gettid()))
	}

	p.logger.Debug().
		Str(`worker`, w.name).
		Int(`tid`, w.ThreadID()).
		Log(`worker started`)

	for {
		if task := w.findTask(); task != nil {
			w.execute(task)
			continue
		}
		if !w.park() {
			break
		}
	}

	p.logger.Debug().
		Str(`worker`, w.name).
		Log(`worker stopped`)

	return nil
}

func (w *Worker) findTask() Task {
	p := w.pool
	w.tick++
	if w.tick%fairnessInterval == 0 {
		if task := p.pollExternal(w); task != nil {
			return task
		}
	}
	if task := w.runq.get(); task != nil {
		return task
	}
	if task := p.pollExternal(w); task != nil {
		return task
	}
	return p.steal(w)
}

func (w *Worker) execute(task Task) {
	p := w.pool
	p.stats.executed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.stats.panicked.Add(1)
			p.logger.Err().
				Str(`worker`, w.name).
				Any(`panic`, r).
				Log(`task panicked`)
		}
	}()
	task(w)
}

// push adds a task to the worker's run queue, spilling half of the run
// queue into the external queue if it is full. Worker goroutine only.
func (w *Worker) push(task Task) {
	box := &taskBox{task: task}
	for !w.runq.putBox(box) {
		var batch [runqSize/2 + 1]*taskBox
		if n := w.runq.grab(&batch); n != 0 {
			w.pool.pushExternalBatch(batch[:n])
		}
	}
}

// park blocks an idle worker until it is signaled, returning false if the
// worker should exit.
func (w *Worker) park() bool {
	p := w.pool

	p.mu.Lock()
	if p.state.Load() != poolRunning && !p.hasWork() {
		p.removeWorkerLocked(w)
		p.mu.Unlock()
		return false
	}
	w.idle = true
	p.idle = append(p.idle, w)
	p.nidle.Add(1)
	p.mu.Unlock()

	// re-check after publishing idleness, submitters that observed no idle
	// workers rely on this
	if p.hasWork() {
		p.unidle(w)
		return true
	}

	var timeout <-chan time.Time
	if p.total.Load() > int32(p.parallelism) {
		timer := time.NewTimer(p.keepAlive)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-w.wake:
		return true

	case <-p.done:
		p.unidle(w)
		return true

	case <-timeout:
		p.mu.Lock()
		defer p.mu.Unlock()
		if w.idle && p.canRetireLocked() {
			p.unidleLocked(w)
			p.removeWorkerLocked(w)
			p.stats.retired.Add(1)
			p.logger.Debug().
				Str(`worker`, w.name).
				Log(`spare worker retired`)
			return false
		}
		return true
	}
}

// nextRand is a xorshift PRNG, used to randomize steal order.
func (w *Worker) nextRand() uint32 {
	x := w.rand
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	w.rand = x
	return x
}
