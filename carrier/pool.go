package carrier

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of work executed by a Worker, which is passed to it.
type Task func(w *Worker)

const (
	poolRunning int32 = iota
	poolShuttingDown
	poolTerminated
)

var poolSeq atomic.Uint64

// Pool is a work-stealing pool of carrier workers. See the package
// documentation for details. The zero value is not usable, use New.
type Pool struct { // betteralign:ignore
	logger *logiface.Logger[logiface.Event]
	name   string

	parallelism  int
	maxPoolSize  int
	minRunnable  int
	keepAlive    time.Duration
	lockOSThread bool

	// workers is a copy-on-write snapshot, for stealing
	workers atomic.Pointer[[]*Worker]

	extMu  sync.Mutex
	ext    extQueue
	extLen atomic.Int64

	// mu guards idle, the worker set, and state transitions
	mu     sync.Mutex
	exited *sync.Cond
	idle   []*Worker
	nidle  atomic.Int32

	total   atomic.Int32
	blocked atomic.Int32
	seq     int

	state atomic.Int32
	done  chan struct{}
	group errgroup.Group

	stats poolStats
}

// New creates a new Pool. No workers are started until work is submitted.
func New(opts ...Option) (*Pool, error) {
	cfg, err := resolvePoolOptions(opts)
	if err != nil {
		return nil, err
	}
	if cfg.name == "" {
		cfg.name = fmt.Sprintf("vthread-pool-%d", poolSeq.Add(1))
	}
	p := &Pool{
		logger:       cfg.logger,
		name:         cfg.name,
		parallelism:  cfg.parallelism,
		maxPoolSize:  cfg.maxPoolSize,
		minRunnable:  cfg.minRunnable,
		keepAlive:    cfg.keepAlive,
		lockOSThread: cfg.lockOSThread,
		done:         make(chan struct{}),
	}
	p.exited = sync.NewCond(&p.mu)
	p.workers.Store(new([]*Worker))
	return p, nil
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Parallelism returns the number of core workers.
func (p *Pool) Parallelism() int { return p.parallelism }

// MaxPoolSize returns the maximum number of workers.
func (p *Pool) MaxPoolSize() int { return p.maxPoolSize }

// MinRunnable returns the minimum number of unblocked workers.
func (p *Pool) MinRunnable() int { return p.minRunnable }

// IsShutdown reports whether Shutdown or Close has been called.
func (p *Pool) IsShutdown() bool { return p.state.Load() != poolRunning }

// Submit schedules the task for execution, via the external queue.
// It is safe to call from any goroutine.
func (p *Pool) Submit(task Task) error {
	return p.SubmitFrom(nil, task)
}

// SubmitFrom schedules the task for execution. If w is a worker of this pool
// (it must then be the calling worker), the task is pushed to its run queue,
// and an idle worker is signaled, otherwise it behaves like Submit.
func (p *Pool) SubmitFrom(w *Worker, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if w != nil && w.pool == p {
		if err := p.checkRunning(); err != nil {
			return err
		}
		w.push(task)
	} else if err := p.pushExternal(task); err != nil {
		return err
	}
	p.stats.submitted.Add(1)
	p.signalWork()
	return nil
}

// LazySubmit pushes the task to the run queue of w, without signaling
// another worker, for the case where w will run it once its current task
// completes. If w is not a worker of this pool it behaves like SubmitFrom.
func (p *Pool) LazySubmit(w *Worker, task Task) error {
	if w == nil || w.pool != p {
		return p.SubmitFrom(w, task)
	}
	if task == nil {
		return ErrNilTask
	}
	if err := p.checkRunning(); err != nil {
		return err
	}
	w.push(task)
	p.stats.submitted.Add(1)
	p.stats.lazy.Add(1)
	return nil
}

// ExternalSubmit schedules the task via the external queue, regardless of
// the calling goroutine.
func (p *Pool) ExternalSubmit(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if err := p.pushExternal(task); err != nil {
		return err
	}
	p.stats.submitted.Add(1)
	p.signalWork()
	return nil
}

func (p *Pool) checkRunning() error {
	if p.state.Load() != poolRunning {
		p.stats.rejected.Add(1)
		return ErrPoolShutdown
	}
	return nil
}

// pushExternal checks the state under extMu, which beginShutdown also
// holds, so every accepted task is visible to the exit check of workers.
func (p *Pool) pushExternal(task Task) error {
	p.extMu.Lock()
	if err := p.checkRunning(); err != nil {
		p.extMu.Unlock()
		return err
	}
	p.ext.push(&taskBox{task: task})
	p.extLen.Store(int64(p.ext.len()))
	p.extMu.Unlock()
	p.stats.external.Add(1)
	return nil
}

func (p *Pool) pushExternalBatch(batch []*taskBox) {
	p.extMu.Lock()
	p.ext.pushBatch(batch)
	p.extLen.Store(int64(p.ext.len()))
	p.extMu.Unlock()
}

// pollExternal pops a task from the external queue, moving up to half of
// the free space of w's run queue worth of additional tasks into it.
func (p *Pool) pollExternal(w *Worker) Task {
	if p.extLen.Load() == 0 {
		return nil
	}
	var batch [runqSize/2 + 1]*taskBox
	p.extMu.Lock()
	defer p.extMu.Unlock()
	n := p.ext.popBatch(batch[:(runqSize-w.runq.len())/2+1])
	p.extLen.Store(int64(p.ext.len()))
	if n == 0 {
		return nil
	}
	for i, box := range batch[1:n] {
		if !w.runq.putBox(box) {
			// unreachable, only w puts
			p.ext.pushBatch(batch[1+i : n])
			p.extLen.Store(int64(p.ext.len()))
			break
		}
	}
	return batch[0].task
}

// steal attempts to take half of another worker's run queue.
func (p *Pool) steal(w *Worker) Task {
	workers := *p.workers.Load()
	n := len(workers)
	if n <= 1 {
		return nil
	}
	start := int(w.nextRand() % uint32(n))
	for i := 0; i < n; i++ {
		victim := workers[(start+i)%n]
		if victim == w {
			continue
		}
		if task := w.runq.steal(&victim.runq); task != nil {
			p.stats.stolen.Add(1)
			return task
		}
	}
	return nil
}

func (p *Pool) hasWork() bool {
	if p.extLen.Load() != 0 {
		return true
	}
	for _, w := range *p.workers.Load() {
		if w.runq.len() != 0 {
			return true
		}
	}
	return false
}

// signalWork wakes an idle worker, or starts a new core worker, if there
// are none idle.
func (p *Pool) signalWork() {
	if p.nidle.Load() == 0 && p.total.Load() >= int32(p.parallelism) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.idle); n != 0 {
		w := p.idle[n-1]
		p.unidleLocked(w)
		select {
		case w.wake <- struct{}{}:
		default:
		}
		return
	}
	// accepted tasks still need a worker while shutting down
	if p.total.Load() < int32(p.parallelism) && p.state.Load() != poolTerminated {
		p.startWorkerLocked()
	}
}

// BeginBlocking must be called by a task before it blocks its worker, w,
// for an extended period, and must be paired with EndBlocking. It may start
// a spare worker, to maintain MinRunnable unblocked workers.
func (p *Pool) BeginBlocking(w *Worker) {
	if w != nil {
		w.blocking.Store(true)
	}
	blocked := p.blocked.Add(1)
	if p.total.Load()-blocked >= int32(p.minRunnable) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Load() != poolRunning {
		return
	}
	total := p.total.Load()
	if total-p.blocked.Load() < int32(p.minRunnable) && total < int32(p.maxPoolSize) {
		p.startWorkerLocked()
		p.stats.spawned.Add(1)
		p.logger.Debug().
			Str(`pool`, p.name).
			Stringer(`blocker`, w).
			Int(`workers`, int(total)+1).
			Int(`blocked`, int(p.blocked.Load())).
			Log(`spare worker started`)
	}
}

// EndBlocking reverses BeginBlocking.
func (p *Pool) EndBlocking(w *Worker) {
	if w != nil {
		w.blocking.Store(false)
	}
	p.blocked.Add(-1)
}

func (p *Pool) startWorkerLocked() {
	p.seq++
	w := newWorker(p, p.seq)
	workers := append(slices.Clone(*p.workers.Load()), w)
	p.workers.Store(&workers)
	p.total.Add(1)
	p.group.Go(w.run)
}

// removeWorkerLocked drops an exiting worker, handing any tasks left in
// its run queue to the external queue.
func (p *Pool) removeWorkerLocked(w *Worker) {
	workers := slices.DeleteFunc(slices.Clone(*p.workers.Load()), func(v *Worker) bool { return v == w })
	p.workers.Store(&workers)
	p.total.Add(-1)
	p.exited.Broadcast()
	for {
		var batch [runqSize/2 + 1]*taskBox
		n := w.runq.grab(&batch)
		if n == 0 {
			break
		}
		p.pushExternalBatch(batch[:n])
	}
}

// canRetireLocked reports whether a worker may exit, without dropping the
// pool below parallelism, or below minRunnable unblocked workers.
func (p *Pool) canRetireLocked() bool {
	total := p.total.Load()
	return total > int32(p.parallelism) && total-1-p.blocked.Load() >= int32(p.minRunnable)
}

func (p *Pool) unidle(w *Worker) {
	p.mu.Lock()
	p.unidleLocked(w)
	p.mu.Unlock()
}

func (p *Pool) unidleLocked(w *Worker) {
	if !w.idle {
		return
	}
	w.idle = false
	if i := slices.Index(p.idle, w); i >= 0 {
		p.idle = slices.Delete(p.idle, i, i+1)
	}
	p.nidle.Add(-1)
}

// Close initiates shutdown without waiting, see Shutdown.
func (p *Pool) Close() error {
	p.beginShutdown()
	return nil
}

// Shutdown stops accepting new tasks, then waits for the workers to drain
// the queued tasks and exit, or for ctx to be done. Submissions made after
// Shutdown is called, including those made by running tasks, are rejected
// with ErrPoolShutdown.
//
// Returns ErrPoolShutdown if the pool was already shut down.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.beginShutdown() {
		return ErrPoolShutdown
	}

	p.logger.Debug().
		Str(`pool`, p.name).
		Log(`pool shutting down`)

	done := make(chan error, 1)
	go func() {
		p.mu.Lock()
		for p.total.Load() != 0 || p.hasWork() {
			p.exited.Wait()
		}
		// no workers may start from here, see signalWork
		p.state.Store(poolTerminated)
		p.mu.Unlock()
		done <- p.group.Wait()
	}()

	select {
	case err := <-done:
		p.logger.Debug().
			Str(`pool`, p.name).
			Log(`pool terminated`)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) beginShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Load() != poolRunning {
		return false
	}
	p.extMu.Lock()
	p.state.Store(poolShuttingDown)
	p.extMu.Unlock()
	close(p.done)
	return true
}

// Workers returns a snapshot of the pool's current workers.
func (p *Pool) Workers() []*Worker {
	return slices.Clone(*p.workers.Load())
}
