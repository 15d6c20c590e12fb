package timer

import (
	"fmt"
	"runtime"

	"github.com/joeycumines/logiface"
)

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	logger *logiface.Logger[logiface.Event]
	shards int
}

// Option configures a Scheduler instance.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *optionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithShards sets the number of shards, rounded up to a power of two.
// Defaults to runtime.GOMAXPROCS(0), rounded up.
func WithShards(n int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if n < 1 {
			return fmt.Errorf(`timer: invalid shards: %d`, n)
		}
		opts.shards = n
		return nil
	}}
}

// WithLogger configures structured logging for the scheduler.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

func resolveSchedulerOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.shards == 0 {
		cfg.shards = runtime.GOMAXPROCS(0)
	}
	cfg.shards = ceilPow2(cfg.shards)
	return cfg, nil
}

func ceilPow2(n int) int {
	v := 1
	for v < n {
		v <<= 1
	}
	return v
}
