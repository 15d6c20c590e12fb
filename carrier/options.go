package carrier

import (
	"fmt"
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultMaxPoolSize is the lower bound of the default MaxPoolSize.
	DefaultMaxPoolSize = 256

	// DefaultKeepAlive is the default idle period after which a spare
	// worker retires.
	DefaultKeepAlive = 30 * time.Second
)

// poolOptions holds configuration options for Pool creation.
type poolOptions struct {
	logger       *logiface.Logger[logiface.Event]
	name         string
	parallelism  int
	maxPoolSize  int
	minRunnable  int
	keepAlive    time.Duration
	lockOSThread bool
}

// Option configures a Pool instance.
type Option interface {
	applyPool(*poolOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyPoolFunc func(*poolOptions) error
}

func (o *optionImpl) applyPool(opts *poolOptions) error {
	return o.applyPoolFunc(opts)
}

// WithParallelism sets the number of core workers.
// Defaults to runtime.GOMAXPROCS(0).
func WithParallelism(n int) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if n < 1 {
			return fmt.Errorf(`carrier: invalid parallelism: %d`, n)
		}
		opts.parallelism = n
		return nil
	}}
}

// WithMaxPoolSize sets the maximum number of workers, core and spare.
// It must not be less than the parallelism.
// Defaults to max(parallelism, DefaultMaxPoolSize).
func WithMaxPoolSize(n int) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if n < 1 {
			return fmt.Errorf(`carrier: invalid max pool size: %d`, n)
		}
		opts.maxPoolSize = n
		return nil
	}}
}

// WithMinRunnable sets the minimum number of workers that are not blocked,
// below which a spare worker is started.
// Defaults to max(parallelism/2, 1).
func WithMinRunnable(n int) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if n < 0 {
			return fmt.Errorf(`carrier: invalid min runnable: %d`, n)
		}
		opts.minRunnable = n
		return nil
	}}
}

// WithKeepAlive sets the idle period after which a worker beyond the
// parallelism retires. Defaults to DefaultKeepAlive.
func WithKeepAlive(d time.Duration) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if d <= 0 {
			return fmt.Errorf(`carrier: invalid keep alive: %s`, d)
		}
		opts.keepAlive = d
		return nil
	}}
}

// WithName sets the pool name, used as the prefix of worker names.
func WithName(name string) Option {
	return &optionImpl{func(opts *poolOptions) error {
		opts.name = name
		return nil
	}}
}

// WithLogger configures structured logging for the pool.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *poolOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithLockOSThread sets whether each worker locks its goroutine to an OS
// thread, for the worker's lifetime. When enabled (and supported), each
// worker records the ID of its OS thread, see [Worker.ThreadID].
func WithLockOSThread(enabled bool) Option {
	return &optionImpl{func(opts *poolOptions) error {
		opts.lockOSThread = enabled
		return nil
	}}
}

// resolvePoolOptions applies Option instances to poolOptions, then fills in
// defaults and validates the result.
func resolvePoolOptions(opts []Option) (*poolOptions, error) {
	cfg := &poolOptions{
		minRunnable: -1,
		keepAlive:   DefaultKeepAlive,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.parallelism == 0 {
		cfg.parallelism = runtime.GOMAXPROCS(0)
	}
	if cfg.maxPoolSize == 0 {
		cfg.maxPoolSize = max(cfg.parallelism, DefaultMaxPoolSize)
	}
	if cfg.minRunnable < 0 {
		cfg.minRunnable = max(cfg.parallelism/2, 1)
	}

	if cfg.maxPoolSize < cfg.parallelism {
		return nil, fmt.Errorf(`carrier: max pool size %d is less than parallelism %d`, cfg.maxPoolSize, cfg.parallelism)
	}
	if cfg.minRunnable > cfg.maxPoolSize {
		return nil, fmt.Errorf(`carrier: min runnable %d exceeds max pool size %d`, cfg.minRunnable, cfg.maxPoolSize)
	}

	return cfg, nil
}
