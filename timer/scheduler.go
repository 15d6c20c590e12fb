package timer

import (
	"container/heap"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Handle is a scheduled callback, which may be cancelled.
type Handle interface {
	// Cancel prevents the callback from running, returning false if it
	// already ran, or was already cancelled.
	Cancel() bool
	// Err returns a non-nil error if the callback will never run, e.g.
	// ErrStopped, other than by Cancel.
	Err() error
}

// Service schedules delayed callbacks.
type Service interface {
	// Schedule runs fn once delay has elapsed.
	Schedule(fn func(), delay time.Duration) Handle
	// ScheduleKeyed is Schedule, picking the shard (if any) by key.
	ScheduleKeyed(key uint64, fn func(), delay time.Duration) Handle
}

const (
	timerPending int32 = iota
	timerFired
	timerCancelled
	timerStopped
)

// Timer is the Handle implementation of Scheduler.
type Timer struct {
	when  time.Time
	fn    func()
	shard *shard
	seq   uint64
	// guarded by shard.mu
	index int
	state atomic.Int32
}

// Cancel implements Handle.
func (t *Timer) Cancel() bool {
	if !t.state.CompareAndSwap(timerPending, timerCancelled) {
		return false
	}
	s := t.shard
	s.mu.Lock()
	if t.index >= 0 {
		heap.Remove(&s.timers, t.index)
	}
	t.fn = nil
	s.mu.Unlock()
	return true
}

// Fired reports whether the callback has run (or is running).
func (t *Timer) Fired() bool { return t.state.Load() == timerFired }

// Err implements Handle, returning ErrStopped if the timer was discarded by
// Stop, or scheduled after it.
func (t *Timer) Err() error {
	if t.state.Load() == timerStopped {
		return ErrStopped
	}
	return nil
}

// Deadline returns the time at which the callback is due.
func (t *Timer) Deadline() time.Time { return t.when }

type shard struct {
	mu      sync.Mutex
	timers  timerHeap
	seq     uint64
	stopped bool

	wake chan struct{}
	stop chan struct{}
}

// Scheduler is a sharded Service. The zero value is not usable, use
// NewScheduler.
type Scheduler struct {
	logger *logiface.Logger[logiface.Event]
	shards []*shard
	mask   uint64
	rr     atomic.Uint64

	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ Service = (*Scheduler)(nil)

// NewScheduler creates a Scheduler, starting one goroutine per shard. Stop
// must be called to release them.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}
	x := &Scheduler{
		logger: cfg.logger,
		shards: make([]*shard, cfg.shards),
		mask:   uint64(cfg.shards - 1),
	}
	for i := range x.shards {
		s := &shard{
			wake: make(chan struct{}, 1),
			stop: make(chan struct{}),
		}
		x.shards[i] = s
		x.wg.Add(1)
		go x.run(s)
	}
	return x, nil
}

// Shards returns the number of shards.
func (x *Scheduler) Shards() int { return len(x.shards) }

// Schedule implements Service, distributing timers across shards in
// round-robin order.
func (x *Scheduler) Schedule(fn func(), delay time.Duration) Handle {
	return x.schedule(x.rr.Add(1), fn, delay)
}

// ScheduleKeyed implements Service.
func (x *Scheduler) ScheduleKeyed(key uint64, fn func(), delay time.Duration) Handle {
	return x.schedule(key, fn, delay)
}

func (x *Scheduler) schedule(key uint64, fn func(), delay time.Duration) *Timer {
	if fn == nil {
		panic(`timer: nil func`)
	}
	s := x.shards[key&x.mask]
	t := &Timer{
		when:  time.Now().Add(max(delay, 0)),
		fn:    fn,
		shard: s,
		index: -1,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		t.fn = nil
		t.state.Store(timerStopped)
		return t
	}
	s.seq++
	t.seq = s.seq
	heap.Push(&s.timers, t)
	first := t.index == 0
	s.mu.Unlock()

	if first {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return t
}

// Len returns the number of pending timers.
func (x *Scheduler) Len() int {
	var n int
	for _, s := range x.shards {
		s.mu.Lock()
		n += len(s.timers)
		s.mu.Unlock()
	}
	return n
}

// Stop discards all pending timers, which will report ErrStopped, and
// stops the shard goroutines, waiting for them to exit. Callbacks that are
// already running are allowed to complete. Stop is idempotent.
func (x *Scheduler) Stop() {
	x.stopOnce.Do(func() {
		var discarded int
		for _, s := range x.shards {
			s.mu.Lock()
			s.stopped = true
			for _, t := range s.timers {
				t.index = -1
				t.fn = nil
				if t.state.CompareAndSwap(timerPending, timerStopped) {
					discarded++
				}
			}
			s.timers = nil
			s.mu.Unlock()
			close(s.stop)
		}
		x.wg.Wait()
		x.logger.Debug().
			Int(`discarded`, discarded).
			Log(`timer scheduler stopped`)
	})
}

func (x *Scheduler) run(s *shard) {
	defer x.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	var due []func()
	for {
		due = due[:0]
		var next time.Time

		now := time.Now()
		s.mu.Lock()
		for len(s.timers) != 0 {
			t := s.timers[0]
			if t.when.After(now) {
				next = t.when
				break
			}
			heap.Pop(&s.timers)
			if t.state.CompareAndSwap(timerPending, timerFired) {
				due = append(due, t.fn)
			}
			t.fn = nil
		}
		s.mu.Unlock()

		for i, fn := range due {
			x.fire(fn)
			due[i] = nil
		}
		if len(due) != 0 {
			// time passed while firing
			continue
		}

		var deadline <-chan time.Time
		if !next.IsZero() {
			timer.Reset(time.Until(next))
			deadline = timer.C
		}

		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-deadline:
		}
	}
}

func (x *Scheduler) fire(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Err().
				Any(`panic`, r).
				Str(`stack`, string(debug.Stack())).
				Log(`timer callback panicked`)
		}
	}()
	fn()
}
