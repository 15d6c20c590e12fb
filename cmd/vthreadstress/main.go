// Command vthreadstress runs stress checks against the vthread scheduler,
// reporting the outcome of each as a structured log line.
//
// Run with: go run ./cmd/vthreadstress -config stress.toml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/joeycumines/go-vthread"
	"github.com/joeycumines/stumpy"
	"go.uber.org/automaxprocs/maxprocs"
)

type config struct {
	Scheduler  vthread.SchedulerConfig `toml:"scheduler"`
	Checks     []string                `toml:"checks"`
	Threads    int                     `toml:"threads"`
	Iterations int                     `toml:"iterations"`
	Timeout    vthread.Duration        `toml:"timeout"`
	Debug      bool                    `toml:"debug"`
}

func defaultConfig() config {
	return config{
		Threads:    1000,
		Iterations: 10_000,
		Timeout:    vthread.Duration(time.Minute),
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	level := stumpy.L.LevelInformational()
	if cfg.Debug {
		level = stumpy.L.LevelDebug()
	}
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(stderr)),
		stumpy.L.WithLevel(level),
	).Logger()
	vthread.SetLogger(logger)

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...any) {
		logger.Debug().Log(fmt.Sprintf(format, a...))
	}))
	defer undo()
	if err != nil {
		logger.Warning().Err(err).Log(`failed to set GOMAXPROCS`)
	}
	if limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	); err != nil {
		logger.Debug().Err(err).Log(`memory limit not set`)
	} else {
		logger.Debug().Int64(`limit`, limit).Log(`memory limit set`)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeout))
	defer cancel()

	failed := 0
	for _, name := range cfg.Checks {
		c := lookupCheck(name)
		start := time.Now()
		err := c.run(ctx, cfg, logger)
		if err != nil {
			failed++
			logger.Err().
				Str(`check`, c.name).
				Dur(`elapsed`, time.Since(start)).
				Err(err).
				Log(`check failed`)
			continue
		}
		logger.Info().
			Str(`check`, c.name).
			Dur(`elapsed`, time.Since(start)).
			Log(`check passed`)
	}
	if failed != 0 {
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet(`vthreadstress`, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configFile string
		checks     string
	)
	fs.StringVar(&configFile, `config`, ``, `TOML config file, applied before the other flags`)
	fs.StringVar(&checks, `checks`, ``, `comma separated checks to run (default all): `+strings.Join(checkNames(), `, `))
	threads := fs.Int(`threads`, 0, `number of threads, for checks that use many`)
	iterations := fs.Int(`iterations`, 0, `iterations, for checks that repeat`)
	timeout := fs.Duration(`timeout`, 0, `overall deadline`)
	parallelism := fs.Int(`parallelism`, 0, `default scheduler parallelism`)
	debug := fs.Bool(`debug`, false, `enable debug logging`)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() != 0 {
		return cfg, fmt.Errorf(`unexpected arguments: %q`, fs.Args())
	}

	if configFile != `` {
		if _, err := toml.DecodeFile(configFile, &cfg); err != nil {
			return cfg, fmt.Errorf(`decode config: %w`, err)
		}
	}

	// explicitly set flags override the file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case `checks`:
			cfg.Checks = strings.Split(checks, `,`)
		case `threads`:
			cfg.Threads = *threads
		case `iterations`:
			cfg.Iterations = *iterations
		case `timeout`:
			cfg.Timeout = vthread.Duration(*timeout)
		case `parallelism`:
			cfg.Scheduler.Parallelism = *parallelism
		case `debug`:
			cfg.Debug = *debug
		}
	})

	if len(cfg.Checks) == 0 {
		cfg.Checks = checkNames()
	}
	for i, name := range cfg.Checks {
		name = strings.TrimSpace(name)
		if lookupCheck(name) == nil {
			return cfg, fmt.Errorf(`unknown check: %q`, name)
		}
		cfg.Checks[i] = name
	}
	if cfg.Threads < 1 || cfg.Iterations < 1 || cfg.Timeout <= 0 {
		return cfg, errors.New(`threads, iterations, and timeout must be positive`)
	}
	return cfg, nil
}

func checkNames() []string {
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.name)
	}
	return names
}

func lookupCheck(name string) *check {
	i := slices.IndexFunc(checks, func(c check) bool { return c.name == name })
	if i < 0 {
		return nil
	}
	return &checks[i]
}
