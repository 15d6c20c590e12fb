package vthread

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-vthread/carrier"
	"github.com/joeycumines/go-vthread/timer"
	"github.com/joeycumines/logiface"
)

// threadOptions holds configuration options for Thread creation.
type threadOptions struct {
	scheduler   *carrier.Pool
	timers      timer.Service
	container   Container
	observer    Observer
	logger      *logiface.Logger[logiface.Event]
	uncaught    func(*Thread, error)
	pinnedTrace *catrate.Limiter
	name        string
	loggerSet   bool
	traceSet    bool
}

// Option configures a Thread instance.
type Option interface {
	applyThread(*threadOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyThreadFunc func(*threadOptions) error
}

func (o *optionImpl) applyThread(opts *threadOptions) error {
	return o.applyThreadFunc(opts)
}

// WithScheduler sets the carrier pool the thread runs on.
// Defaults to DefaultScheduler().
func WithScheduler(pool *carrier.Pool) Option {
	return &optionImpl{func(opts *threadOptions) error {
		if pool == nil {
			return errors.New(`vthread: nil scheduler`)
		}
		opts.scheduler = pool
		return nil
	}}
}

// WithTimers sets the timer service used for timed parking.
// Defaults to DefaultTimers().
func WithTimers(timers timer.Service) Option {
	return &optionImpl{func(opts *threadOptions) error {
		if timers == nil {
			return errors.New(`vthread: nil timer service`)
		}
		opts.timers = timers
		return nil
	}}
}

// WithName sets the thread's name.
func WithName(name string) Option {
	return &optionImpl{func(opts *threadOptions) error {
		opts.name = name
		return nil
	}}
}

// WithContainer sets the container that Start registers the thread with.
// Defaults to RootContainer(). See also Thread.StartIn.
func WithContainer(container Container) Option {
	return &optionImpl{func(opts *threadOptions) error {
		opts.container = container
		return nil
	}}
}

// WithObserver sets an observer of the thread's mount, unmount, and pinned
// events. Observer methods are called synchronously, on the thread.
func WithObserver(observer Observer) Option {
	return &optionImpl{func(opts *threadOptions) error {
		opts.observer = observer
		return nil
	}}
}

// WithLogger configures structured logging for the thread. Defaults to the
// logger set by SetLogger, if any.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *threadOptions) error {
		opts.logger = logger
		opts.loggerSet = true
		return nil
	}}
}

// WithUncaughtHandler sets the handler for panics that escape the thread's
// task. It is called on the thread, before it terminates. The default
// handler logs the panic, at error level.
func WithUncaughtHandler(handler func(t *Thread, err error)) Option {
	return &optionImpl{func(opts *threadOptions) error {
		opts.uncaught = handler
		return nil
	}}
}

// WithPinnedTraceRate configures the rate at which a warning is logged when
// a thread parks while pinned, per pin reason, as rates of events per
// window (see catrate.NewLimiter). Threads created with the same Option
// value share the limit. A nil or empty map disables the warning.
// Defaults to one per reason per minute, shared by all threads.
func WithPinnedTraceRate(rates map[time.Duration]int) Option {
	var (
		limiter *catrate.Limiter
		err     error
	)
	if len(rates) != 0 {
		limiter, err = newTraceLimiter(rates)
	}
	return &optionImpl{func(opts *threadOptions) error {
		if err != nil {
			return err
		}
		opts.pinnedTrace = limiter
		opts.traceSet = true
		return nil
	}}
}

func newTraceLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf(`vthread: invalid pinned trace rate: %v`, r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// resolveThreadOptions applies Option instances to threadOptions, filling in
// the defaults.
func resolveThreadOptions(opts []Option) (*threadOptions, error) {
	cfg := &threadOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyThread(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.loggerSet {
		cfg.logger = getGlobalLogger()
	}
	if !cfg.traceSet {
		cfg.pinnedTrace = defaultTraceLimiter()
	}
	if cfg.scheduler == nil {
		cfg.scheduler = DefaultScheduler()
	}
	if cfg.timers == nil {
		cfg.timers = DefaultTimers()
	}
	return cfg, nil
}
