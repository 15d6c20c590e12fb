package vthread

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-vthread/carrier"
	"github.com/joeycumines/go-vthread/timer"
)

const (
	// EnvParallelism overrides the parallelism of the default scheduler.
	EnvParallelism = `VTHREAD_SCHEDULER_PARALLELISM`
	// EnvMaxPoolSize overrides the max pool size of the default scheduler.
	EnvMaxPoolSize = `VTHREAD_SCHEDULER_MAX_POOL_SIZE`
	// EnvMinRunnable overrides the min runnable of the default scheduler.
	EnvMinRunnable = `VTHREAD_SCHEDULER_MIN_RUNNABLE`
)

// SchedulerConfig models the parameters of a carrier pool. The zero value of
// each field selects the default.
type SchedulerConfig struct {
	Name        string   `toml:"name"`
	Parallelism int      `toml:"parallelism"`
	MaxPoolSize int      `toml:"max_pool_size"`
	MinRunnable int      `toml:"min_runnable"`
	KeepAlive   Duration `toml:"keep_alive"`
}

// Duration is a time.Duration that decodes from text, e.g. "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// SchedulerConfigFromEnv reads a SchedulerConfig from the environment, see
// EnvParallelism, EnvMaxPoolSize, and EnvMinRunnable. Invalid or
// inconsistent values are reset to their defaults, and reported via the
// returned error, alongside the usable config.
func SchedulerConfigFromEnv() (SchedulerConfig, error) {
	var (
		cfg  SchedulerConfig
		errs []error
	)
	read := func(key string, dst *int) {
		s, ok := os.LookupEnv(key)
		if !ok || s == `` {
			return
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			errs = append(errs, fmt.Errorf(`vthread: invalid %s: %q`, key, s))
			return
		}
		*dst = v
	}
	read(EnvParallelism, &cfg.Parallelism)
	read(EnvMaxPoolSize, &cfg.MaxPoolSize)
	read(EnvMinRunnable, &cfg.MinRunnable)

	parallelism := cfg.Parallelism
	if parallelism == 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	if cfg.MaxPoolSize != 0 && cfg.MaxPoolSize < parallelism {
		errs = append(errs, fmt.Errorf(`vthread: %s %d is less than parallelism %d`, EnvMaxPoolSize, cfg.MaxPoolSize, parallelism))
		cfg.MaxPoolSize = 0
	}
	maxPoolSize := cfg.MaxPoolSize
	if maxPoolSize == 0 {
		maxPoolSize = max(parallelism, carrier.DefaultMaxPoolSize)
	}
	if cfg.MinRunnable > maxPoolSize {
		errs = append(errs, fmt.Errorf(`vthread: %s %d exceeds max pool size %d`, EnvMinRunnable, cfg.MinRunnable, maxPoolSize))
		cfg.MinRunnable = 0
	}

	return cfg, errors.Join(errs...)
}

// Options converts the config to carrier options.
func (c SchedulerConfig) Options() []carrier.Option {
	var opts []carrier.Option
	if c.Name != `` {
		opts = append(opts, carrier.WithName(c.Name))
	}
	if c.Parallelism > 0 {
		opts = append(opts, carrier.WithParallelism(c.Parallelism))
	}
	if c.MaxPoolSize > 0 {
		opts = append(opts, carrier.WithMaxPoolSize(c.MaxPoolSize))
	}
	if c.MinRunnable > 0 {
		opts = append(opts, carrier.WithMinRunnable(c.MinRunnable))
	}
	if c.KeepAlive > 0 {
		opts = append(opts, carrier.WithKeepAlive(time.Duration(c.KeepAlive)))
	}
	return opts
}

// NewScheduler creates a carrier pool from the config, applying opts last.
func NewScheduler(cfg SchedulerConfig, opts ...carrier.Option) (*carrier.Pool, error) {
	return carrier.New(append(cfg.Options(), opts...)...)
}

var defaultScheduler = sync.OnceValue(func() *carrier.Pool {
	logger := getGlobalLogger()
	cfg, err := SchedulerConfigFromEnv()
	if err != nil {
		logger.Warning().
			Err(err).
			Log(`invalid default scheduler config`)
	}
	if cfg.Name == `` {
		cfg.Name = `vthread-default`
	}
	pool, err := NewScheduler(cfg, carrier.WithLogger(logger))
	if err != nil {
		// unreachable, config is validated above
		panic(err)
	}
	return pool
})

// DefaultScheduler returns the process-wide carrier pool, used by threads
// created without WithScheduler. It is created on first use, configured
// from the environment (see SchedulerConfigFromEnv), and never shut down.
func DefaultScheduler() *carrier.Pool {
	return defaultScheduler()
}

var defaultTimers = sync.OnceValue(func() *timer.Scheduler {
	timers, err := timer.NewScheduler(timer.WithLogger(getGlobalLogger()))
	if err != nil {
		panic(err)
	}
	return timers
})

// DefaultTimers returns the process-wide timer service, used by threads
// created without WithTimers. It is created on first use, and never stopped.
func DefaultTimers() *timer.Scheduler {
	return defaultTimers()
}

var defaultTraceLimiter = sync.OnceValue(func() *catrate.Limiter {
	return catrate.NewLimiter(map[time.Duration]int{time.Minute: 1})
})
