// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/joeycumines/go-taskrt"
	taskprom "github.com/joeycumines/go-taskrt/prometheus"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
)

const environmentKey = "taskrt.environment"

// environment is the state shared by the commands, set up by the Before
// hook.
type environment struct {
	logger       *logiface.Logger[logiface.Event]
	poller       *taskprom.SnapshotPoller
	server       *http.Server
	undoMaxprocs func()
	runs         int
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Number of workers, 0 for the available cores",
			EnvVars: []string{"TASKRT_WORKERS"},
		},
		&cli.DurationFlag{
			Name:    "time-slice",
			Usage:   "Run time after which a task is asked to yield",
			Value:   taskrt.DefaultTimeSlice,
			EnvVars: []string{"TASKRT_TIME_SLICE"},
		},
		&cli.DurationFlag{
			Name:    "tick",
			Usage:   "Timer wheel resolution",
			Value:   taskrt.DefaultTickGranularity,
			EnvVars: []string{"TASKRT_TICK"},
		},
		&cli.DurationFlag{
			Name:    "max-idle-park",
			Usage:   "Upper bound of an idle worker's park",
			Value:   taskrt.DefaultMaxIdlePark,
			EnvVars: []string{"TASKRT_MAX_IDLE_PARK"},
		},
		&cli.Int64Flag{
			Name:    "max-tasks",
			Usage:   "Limit on live tasks, 0 for unlimited",
			EnvVars: []string{"TASKRT_MAX_TASKS"},
		},
		&cli.StringFlag{
			Name:    "gather-policy",
			Usage:   "Gather behavior on failure: run-all, cancel-siblings",
			Value:   taskrt.GatherRunAll.String(),
			EnvVars: []string{"TASKRT_GATHER_POLICY"},
		},
		&cli.BoolFlag{
			Name:    "metrics",
			Usage:   "Collect latency metrics, and print them after the run",
			EnvVars: []string{"TASKRT_METRICS"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Serve Prometheus metrics on this address, e.g. :9090",
			EnvVars: []string{"TASKRT_METRICS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level: trace, debug, info, notice, warning, err, disabled",
			Value:   logiface.LevelWarning.String(),
			EnvVars: []string{"TASKRT_LOG_LEVEL"},
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "Cancel the scenario after this long, 0 for no timeout",
			EnvVars: []string{"TASKRT_TIMEOUT"},
		},
	}
}

func parseLevel(s string) (logiface.Level, error) {
	for _, level := range [...]logiface.Level{
		logiface.LevelDisabled,
		logiface.LevelEmergency,
		logiface.LevelAlert,
		logiface.LevelCritical,
		logiface.LevelError,
		logiface.LevelWarning,
		logiface.LevelNotice,
		logiface.LevelInformational,
		logiface.LevelDebug,
		logiface.LevelTrace,
	} {
		if strings.EqualFold(s, level.String()) {
			return level, nil
		}
	}
	return 0, fmt.Errorf("invalid log level: %q", s)
}

func parseGatherPolicy(s string) (taskrt.GatherPolicy, error) {
	for _, policy := range [...]taskrt.GatherPolicy{taskrt.GatherRunAll, taskrt.GatherCancelSiblings} {
		if s == policy.String() {
			return policy, nil
		}
	}
	return 0, fmt.Errorf("invalid gather policy: %q", s)
}

func setup(c *cli.Context) error {
	level, err := parseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	env := &environment{
		logger: stumpy.L.New(
			stumpy.L.WithStumpy(stumpy.WithWriter(c.App.ErrWriter)),
			stumpy.L.WithLevel(level),
			stumpy.L.WithCategoryRateLimits(map[time.Duration]int{
				time.Second:      10,
				time.Second * 10: 50,
			}),
		).Logger(),
	}
	c.App.Metadata = map[string]any{environmentKey: env}

	env.undoMaxprocs, err = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		env.logger.Debug().Log(fmt.Sprintf(format, args...))
	}))
	if err != nil {
		env.logger.Warning().Err(err).Log("failed to set GOMAXPROCS")
	}

	if addr := c.String("metrics-addr"); addr != "" {
		if err := env.serveMetrics(addr); err != nil {
			return err
		}
	}
	return nil
}

func teardown(c *cli.Context) error {
	env := getEnvironment(c)
	if env == nil {
		return nil
	}
	if env.undoMaxprocs != nil {
		env.undoMaxprocs()
	}
	env.poller.Stop()
	if env.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return env.server.Shutdown(ctx)
	}
	return nil
}

func getEnvironment(c *cli.Context) *environment {
	env, _ := c.App.Metadata[environmentKey].(*environment)
	return env
}

func (x *environment) serveMetrics(addr string) error {
	reg := prom.NewRegistry()
	poller, err := taskprom.NewSnapshotPoller("", reg, time.Second)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	x.poller = poller
	x.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	poller.Start(context.Background())

	go func() {
		if err := x.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			x.logger.Err().Err(err).Log("metrics server failed")
		}
	}()

	x.logger.Info().
		Str("addr", listener.Addr().String()).
		Log("serving metrics")
	return nil
}

// newScheduler builds a scheduler from the global flags, registering it
// with the metrics poller, if any.
func newScheduler(c *cli.Context, name string) (*taskrt.Scheduler, error) {
	env := getEnvironment(c)
	gatherPolicy, err := parseGatherPolicy(c.String("gather-policy"))
	if err != nil {
		return nil, err
	}
	s, err := taskrt.New(
		taskrt.WithWorkers(c.Int("workers")),
		taskrt.WithTimeSlice(c.Duration("time-slice")),
		taskrt.WithTickGranularity(c.Duration("tick")),
		taskrt.WithMaxIdlePark(c.Duration("max-idle-park")),
		taskrt.WithMaxTasks(c.Int64("max-tasks")),
		taskrt.WithGatherPolicy(gatherPolicy),
		taskrt.WithMetrics(c.Bool("metrics") || env.poller != nil),
		taskrt.WithLogger(env.logger),
	)
	if err != nil {
		return nil, err
	}
	env.runs++
	env.poller.AddScheduler(fmt.Sprintf("%s-%d", name, env.runs), s)
	return s, nil
}

// runContext applies the timeout flag.
func runContext(c *cli.Context) (context.Context, context.CancelFunc) {
	if timeout := c.Duration("timeout"); timeout > 0 {
		return context.WithTimeout(c.Context, timeout)
	}
	return context.WithCancel(c.Context)
}
