package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-vthread"
	"github.com/joeycumines/go-vthread/carrier"
	"github.com/joeycumines/go-vthread/continuation"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

type check struct {
	name string
	run  func(ctx context.Context, cfg config, logger *logiface.Logger[logiface.Event]) error
}

var checks = []check{
	{name: `join-race`, run: checkJoinRace},
	{name: `permit`, run: checkPermit},
	{name: `idempotent-unpark`, run: checkIdempotentUnpark},
	{name: `timed-park`, run: checkTimedPark},
	{name: `pinned-park`, run: checkPinnedPark},
	{name: `no-double-mount`, run: checkNoDoubleMount},
	{name: `monitor`, run: checkMonitor},
}

const timedParkDelay = 50 * time.Millisecond

// harness is a scheduler dedicated to a single check.
type harness struct {
	pool   *carrier.Pool
	logger *logiface.Logger[logiface.Event]
}

func newHarness(cfg config, logger *logiface.Logger[logiface.Event]) (*harness, error) {
	pool, err := vthread.NewScheduler(cfg.Scheduler, carrier.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &harness{pool: pool, logger: logger}, nil
}

func (h *harness) close(ctx context.Context) {
	if err := h.pool.Shutdown(ctx); err != nil {
		h.logger.Warning().Err(err).Log(`scheduler shutdown failed`)
	}
	stats := h.pool.Stats()
	h.logger.Debug().
		Str(`pool`, h.pool.Name()).
		Uint64(`executed`, stats.Executed).
		Uint64(`stolen`, stats.Stolen).
		Uint64(`spares`, stats.SparesSpawned).
		Log(`scheduler stats`)
}

func (h *harness) options(opts ...vthread.Option) []vthread.Option {
	return append([]vthread.Option{vthread.WithScheduler(h.pool), vthread.WithLogger(h.logger)}, opts...)
}

func (h *harness) join(ctx context.Context, th *vthread.Thread) error {
	if err := th.Join(ctx); err != nil {
		return fmt.Errorf(`join %s: %w`, th, err)
	}
	return th.Err()
}

// waitState polls until th reaches state, or ctx is done.
func waitState(ctx context.Context, th *vthread.Thread, state vthread.ThreadState) error {
	for th.State() != state {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf(`%s: waiting for %s: %w`, th, state, err)
		}
		runtime.Gosched()
	}
	return nil
}

// checkJoinRace races join against termination, which must never hang.
func checkJoinRace(ctx context.Context, cfg config, logger *logiface.Logger[logiface.Event]) error {
	h, err := newHarness(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	opts := h.options()
	for i := 0; i < cfg.Iterations; i++ {
		g.Go(func() error {
			th, err := vthread.Go(func(*vthread.Thread) {}, opts...)
			if err != nil {
				return err
			}
			return h.join(ctx, th)
		})
	}
	return g.Wait()
}

// checkPermit unparks each thread before it parks, which must not suspend.
func checkPermit(ctx context.Context, cfg config, logger *logiface.Logger[logiface.Event]) error {
	h, err := newHarness(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close(ctx)

	var suspended atomic.Int64
	opts := h.options(vthread.WithObserver(vthread.ObserverFuncs{
		Unmount: func(*vthread.Thread, *carrier.Worker) { suspended.Add(1) },
	}))
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Threads; i++ {
		g.Go(func() error {
			th, err := vthread.Go(func(th *vthread.Thread) {
				th.Unpark()
				th.Park()
			}, opts...)
			if err != nil {
				return err
			}
			return h.join(ctx, th)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// one unmount per thread, on termination
	if n := suspended.Load(); n != int64(cfg.Threads) {
		return fmt.Errorf(`expected %d unmounts, got %d`, cfg.Threads, n)
	}
	return nil
}

// checkIdempotentUnpark unparks twice, then parks twice: only the first
// park may return without an unpark.
func checkIdempotentUnpark(ctx context.Context, cfg config, logger *logiface.Logger[logiface.Event]) error {
	h, err := newHarness(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < cfg.Threads; i++ {
		g.Go(func() error {
			var parks atomic.Int32
			th, err := vthread.Go(func(th *vthread.Thread) {
				th.Unpark()
				th.Unpark()
				th.Park()
				parks.Add(1)
				th.Park()
				parks.Add(1)
			}, h.options()...)
			if err != nil {
				return err
			}
			if err := waitState(ctx, th, vthread.StateWaiting); err != nil {
				return err
			}
			if n := parks.Load(); n != 1 {
				return fmt.Errorf(`%s: expected 1 completed park, got %d`, th, n)
			}
			th.Unpark()
			return h.join(ctx, th)
		})
	}
	return g.Wait()
}

// checkTimedPark parks many threads for a fixed duration, each of which
// must resume exactly once, no earlier than the deadline.
func checkTimedPark(ctx context.Context, cfg config, logger *logiface.Logger[logiface.Event]) error {
	h, err := newHarness(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close(ctx)

	var (
		mounts atomic.Int64
		early  atomic.Int64
	)
	opts := h.options(vthread.WithObserver(vthread.ObserverFuncs{
		Mount: func(*vthread.Thread, *carrier.Worker) { mounts.Add(1) },
	}))
	threads := make([]*vthread.Thread, 0, cfg.Threads)
	for i := 0; i < cfg.Threads; i++ {
		th, err := vthread.Go(func(th *vthread.Thread) {
			start := time.Now()
			th.ParkNanos(int64(timedParkDelay))
			if time.Since(start) < timedParkDelay {
				early.Add(1)
			}
		}, opts...)
		if err != nil {
			return err
		}
		threads = append(threads, th)
	}
	for _, th := range threads {
		if err := h.join(ctx, th); err != nil {
			return err
		}
	}
	if n := early.Load(); n != 0 {
		return fmt.Errorf(`%d threads resumed early`, n)
	}
	if n := mounts.Load(); n != 2*int64(cfg.Threads) {
		return fmt.Errorf(`expected %d mounts, got %d`, 2*cfg.Threads, n)
	}
	return nil
}

// checkPinnedPark parks threads inside critical sections, which must block
// their carrier, staying mounted, until unparked.
func checkPinnedPark(ctx context.Context, cfg config, logger *logiface.Logger[logiface.Event]) error {
	h, err := newHarness(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close(ctx)

	n := min(cfg.Threads, h.pool.MaxPoolSize()-h.pool.Parallelism())
	if n < 1 {
		return errors.New(`max pool size leaves no room for spare carriers`)
	}
	var moved atomic.Int64
	opts := h.options(vthread.WithPinnedTraceRate(nil))
	threads := make([]*vthread.Thread, 0, n)
	for i := 0; i < n; i++ {
		th, err := vthread.Go(func(th *vthread.Thread) {
			th.Pinned(func() {
				before := th.Carrier()
				th.Park()
				if th.Carrier() != before {
					moved.Add(1)
				}
			})
		}, opts...)
		if err != nil {
			return err
		}
		threads = append(threads, th)
	}
	for _, th := range threads {
		if err := waitState(ctx, th, vthread.StateWaiting); err != nil {
			return err
		}
		if w := th.Carrier(); w == nil || !w.IsBlocking() {
			return fmt.Errorf(`%s: expected a blocked carrier`, th)
		}
	}
	for _, th := range threads {
		th.Unpark()
	}
	for _, th := range threads {
		if err := h.join(ctx, th); err != nil {
			return err
		}
	}
	if n := moved.Load(); n != 0 {
		return fmt.Errorf(`%d pinned threads changed carrier`, n)
	}
	return nil
}

// checkNoDoubleMount races unparks against parking threads, asserting each
// carrier reports the mounting thread.
func checkNoDoubleMount(ctx context.Context, cfg config, logger *logiface.Logger[logiface.Event]) error {
	h, err := newHarness(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close(ctx)

	var violations atomic.Int64
	opts := h.options(vthread.WithObserver(vthread.ObserverFuncs{
		Mount: func(th *vthread.Thread, w *carrier.Worker) {
			if w.Mounted() != th.ID() {
				violations.Add(1)
			}
		},
	}))
	iterations := max(cfg.Iterations/cfg.Threads, 1)
	threads := make([]*vthread.Thread, 0, cfg.Threads)
	for i := 0; i < cfg.Threads; i++ {
		th, err := vthread.Go(func(th *vthread.Thread) {
			for j := 0; j < iterations; j++ {
				if j%2 == 0 {
					th.ParkNanos(int64(time.Millisecond))
				} else {
					th.TryYield()
				}
			}
		}, opts...)
		if err != nil {
			return err
		}
		threads = append(threads, th)
	}

	unparkCtx, stop := context.WithCancel(ctx)
	defer stop()
	g := new(errgroup.Group)
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for j := i; unparkCtx.Err() == nil; j++ {
				threads[j%len(threads)].Unpark()
			}
			return nil
		})
	}
	var joinErr error
	for _, th := range threads {
		if joinErr = h.join(ctx, th); joinErr != nil {
			break
		}
	}
	stop()
	_ = g.Wait()
	if joinErr != nil {
		return joinErr
	}
	if n := violations.Load(); n != 0 {
		return fmt.Errorf(`%d double mounts`, n)
	}
	return nil
}

// checkMonitor contends a pinning monitor across threads.
func checkMonitor(ctx context.Context, cfg config, logger *logiface.Logger[logiface.Event]) error {
	h, err := newHarness(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close(ctx)

	var (
		m       vthread.Monitor
		count   int
		reasons atomic.Int64
	)
	opts := h.options(
		vthread.WithPinnedTraceRate(nil),
		vthread.WithObserver(vthread.ObserverFuncs{
			Pinned: func(_ *vthread.Thread, r continuation.Reason) {
				if r == continuation.ReasonMonitor {
					reasons.Add(1)
				}
			},
		}),
	)
	iterations := max(cfg.Iterations/cfg.Threads, 1)
	c := vthread.NewContainer(`monitor`)
	for i := 0; i < cfg.Threads; i++ {
		th, err := vthread.New(func(th *vthread.Thread) {
			for j := 0; j < iterations; j++ {
				m.Lock()
				count++
				if j%8 == 0 {
					th.TryYield()
				}
				m.Unlock()
			}
		}, opts...)
		if err != nil {
			return err
		}
		if err := th.StartIn(c); err != nil {
			return err
		}
	}
	if err := c.Wait(ctx); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	if expected := cfg.Threads * iterations; count != expected {
		return fmt.Errorf(`expected count %d, got %d`, expected, count)
	}
	// every 8th iteration yields while holding the monitor
	if expected := int64(cfg.Threads * ((iterations + 7) / 8)); reasons.Load() != expected {
		return fmt.Errorf(`expected %d pinned yields, got %d`, expected, reasons.Load())
	}
	return nil
}
