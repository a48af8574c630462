// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/joeycumines/go-taskrt"
	"github.com/urfave/cli/v2"
)

// scenario is a benchmark: a root continuation, and a report of its
// result.
type scenario struct {
	name        string
	usage       string
	flags       []cli.Flag
	root        func(c *cli.Context) taskrt.Continuation
	report      func(c *cli.Context, w io.Writer, result any, elapsed time.Duration)
	description string
}

func scenarioCommands() []*cli.Command {
	scenarios := []scenario{
		spawnScenario(),
		switchScenario(),
		latencyScenario(),
		fanoutScenario(),
		ioScenario(),
		preemptScenario(),
	}
	commands := make([]*cli.Command, len(scenarios))
	for i, sc := range scenarios {
		commands[i] = &cli.Command{
			Name:        sc.name,
			Usage:       sc.usage,
			Description: sc.description,
			Flags:       sc.flags,
			Action: func(c *cli.Context) error {
				return runScenario(c, sc)
			},
		}
	}
	return commands
}

func runScenario(c *cli.Context, sc scenario) error {
	s, err := newScheduler(c, sc.name)
	if err != nil {
		return err
	}
	ctx, cancel := runContext(c)
	defer cancel()

	start := time.Now()
	result, err := s.Run(ctx, sc.root(c))
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("scenario %s: %w", sc.name, err)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Benchmark: %s\n", sc.name)
	fmt.Fprintf(w, "Workers: %d\n", s.Workers())
	sc.report(c, w, result, elapsed)
	fmt.Fprintf(w, "Time: %.2fms\n", float64(elapsed)/float64(time.Millisecond))
	printStats(w, s)
	return nil
}

func printStats(w io.Writer, s *taskrt.Scheduler) {
	stats := s.Stats()
	fmt.Fprintf(w, "Spawned: %d, completed: %d, failed: %d, cancelled: %d\n",
		stats.Spawned, stats.Completed, stats.Failed, stats.Cancelled)
	fmt.Fprintf(w, "Slices: %d, steals: %d, preemptions: %d (requested %d)\n",
		stats.Executed(), stats.Steals(), stats.Preemptions(), stats.PreemptRequests)

	if m, ok := s.Metrics(); ok {
		fmt.Fprintf(w, "Resume: p50=%v p99=%v max=%v\n", m.Resume.P50, m.Resume.P99, m.Resume.Max)
		if m.WakeLateness.Count > 0 {
			fmt.Fprintf(w, "Wake lateness: p50=%v p99=%v max=%v\n",
				m.WakeLateness.P50, m.WakeLateness.P99, m.WakeLateness.Max)
		}
	}
}

func tasksFlag(value int) *cli.IntFlag {
	return &cli.IntFlag{
		Name:    "tasks",
		Aliases: []string{"n"},
		Usage:   "Number of tasks",
		Value:   value,
		EnvVars: []string{"TASKRT_TASKS"},
	}
}

// gatherOf spawns count tasks built by fn, and completes with their
// ordered results.
func gatherOf(count int, fn func(i int) taskrt.Continuation) taskrt.Continuation {
	var g *taskrt.Gather
	return taskrt.Steps(
		func(c *taskrt.Context) taskrt.Step {
			handles := make([]*taskrt.Task, count)
			for i := range handles {
				h, err := c.Spawn(fn(i))
				if err != nil {
					return c.Fail(err)
				}
				handles[i] = h
			}
			g = c.Gather(handles...)
			return c.Await(g)
		},
		func(c *taskrt.Context) taskrt.Step {
			return c.Return(g.Result())
		},
	)
}

func perSecond(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

func spawnScenario() scenario {
	return scenario{
		name:  "spawn",
		usage: "Spawn and join many trivial tasks",
		flags: []cli.Flag{tasksFlag(100000)},
		root: func(c *cli.Context) taskrt.Continuation {
			return gatherOf(c.Int("tasks"), func(i int) taskrt.Continuation {
				return taskrt.Func(func(*taskrt.Context) (any, error) {
					return i, nil
				})
			})
		},
		report: func(c *cli.Context, w io.Writer, result any, elapsed time.Duration) {
			n := len(result.([]any))
			fmt.Fprintf(w, "Tasks: %d\n", n)
			fmt.Fprintf(w, "Tasks/sec: %.0f\n", perSecond(n, elapsed))
		},
	}
}

// yielder yields a fixed number of times.
type yielder struct {
	remaining int
}

func (x *yielder) Resume(c *taskrt.Context) taskrt.Step {
	if x.remaining <= 0 {
		return c.Done(nil)
	}
	x.remaining--
	return c.Yield()
}

func switchScenario() scenario {
	return scenario{
		name:  "switch",
		usage: "Measure context switches, via explicit yields",
		flags: []cli.Flag{
			tasksFlag(10),
			&cli.IntFlag{
				Name:  "yields",
				Usage: "Number of yields per task",
				Value: 100000,
			},
		},
		root: func(c *cli.Context) taskrt.Continuation {
			yields := c.Int("yields")
			return gatherOf(c.Int("tasks"), func(int) taskrt.Continuation {
				return &yielder{remaining: yields}
			})
		},
		report: func(c *cli.Context, w io.Writer, _ any, elapsed time.Duration) {
			switches := c.Int("tasks") * c.Int("yields")
			fmt.Fprintf(w, "Switches: %d\n", switches)
			fmt.Fprintf(w, "Switches/sec: %.0f\n", perSecond(switches, elapsed))
			if switches > 0 {
				fmt.Fprintf(w, "Per switch: %v\n", elapsed/time.Duration(switches))
			}
		},
	}
}

// timedSleep completes with how long its sleep actually took.
func timedSleep(d time.Duration) taskrt.Continuation {
	var start time.Time
	return taskrt.Steps(
		func(c *taskrt.Context) taskrt.Step {
			start = time.Now()
			return c.Sleep(d)
		},
		func(c *taskrt.Context) taskrt.Step {
			return c.Done(time.Since(start))
		},
	)
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(p*float64(len(sorted))+0.5) - 1
	return sorted[min(max(i, 0), len(sorted)-1)]
}

func latencyScenario() scenario {
	return scenario{
		name:  "latency",
		usage: "Measure timer wake latency percentiles",
		flags: []cli.Flag{
			tasksFlag(10000),
			&cli.DurationFlag{
				Name:  "sleep",
				Usage: "Sleep duration per task",
				Value: time.Millisecond,
			},
		},
		root: func(c *cli.Context) taskrt.Continuation {
			d := c.Duration("sleep")
			return gatherOf(c.Int("tasks"), func(int) taskrt.Continuation {
				return timedSleep(d)
			})
		},
		report: func(c *cli.Context, w io.Writer, result any, _ time.Duration) {
			d := c.Duration("sleep")
			results := result.([]any)
			lateness := make([]time.Duration, len(results))
			for i, v := range results {
				lateness[i] = v.(time.Duration) - d
			}
			slices.Sort(lateness)
			fmt.Fprintf(w, "Tasks: %d, sleep: %v\n", len(results), d)
			fmt.Fprintf(w, "Lateness: p50=%v p95=%v p99=%v max=%v\n",
				percentile(lateness, 0.5),
				percentile(lateness, 0.95),
				percentile(lateness, 0.99),
				percentile(lateness, 1))
		},
	}
}

// sumWorker sums i*id over n iterations, polling its safepoint.
type sumWorker struct {
	id, n, i int
	sum      int
}

func (x *sumWorker) Resume(c *taskrt.Context) taskrt.Step {
	for x.i < x.n {
		x.sum += x.i * x.id
		x.i++
		if x.i&1023 == 0 && c.Safepoint() {
			return c.Yield()
		}
	}
	return c.Done(x.sum)
}

func fanoutScenario() scenario {
	return scenario{
		name:  "fanout",
		usage: "CPU-bound fan-out, joined via gather",
		flags: []cli.Flag{
			tasksFlag(100),
			&cli.IntFlag{
				Name:  "work",
				Usage: "Iterations per task",
				Value: 20000000,
			},
		},
		root: func(c *cli.Context) taskrt.Continuation {
			work := c.Int("work")
			return gatherOf(c.Int("tasks"), func(i int) taskrt.Continuation {
				return &sumWorker{id: i, n: work}
			})
		},
		report: func(c *cli.Context, w io.Writer, result any, elapsed time.Duration) {
			var total int
			for _, v := range result.([]any) {
				total += v.(int)
			}
			fmt.Fprintf(w, "Tasks: %d\n", c.Int("tasks"))
			fmt.Fprintf(w, "Work per task: %d\n", c.Int("work"))
			fmt.Fprintf(w, "Total result: %d\n", total)
			fmt.Fprintf(w, "Tasks/sec: %.0f\n", perSecond(c.Int("tasks"), elapsed))
		},
	}
}

func ioScenario() scenario {
	return scenario{
		name:  "io",
		usage: "Simulated I/O fan-out, via concurrent sleeps",
		flags: []cli.Flag{
			tasksFlag(10000),
			&cli.DurationFlag{
				Name:  "sleep",
				Usage: "Simulated latency per task",
				Value: 100 * time.Millisecond,
			},
		},
		root: func(c *cli.Context) taskrt.Continuation {
			d := c.Duration("sleep")
			return gatherOf(c.Int("tasks"), func(i int) taskrt.Continuation {
				return taskrt.Steps(
					func(c *taskrt.Context) taskrt.Step { return c.Sleep(d) },
					func(c *taskrt.Context) taskrt.Step { return c.Done(i) },
				)
			})
		},
		report: func(c *cli.Context, w io.Writer, result any, elapsed time.Duration) {
			var total int
			for _, v := range result.([]any) {
				total += v.(int)
			}
			fmt.Fprintf(w, "Tasks: %d\n", c.Int("tasks"))
			fmt.Fprintf(w, "Total result: %d\n", total)
			fmt.Fprintf(w, "Tasks/sec: %.0f\n", perSecond(c.Int("tasks"), elapsed))
		},
	}
}

// preemptResult records when each side of the preempt scenario finished.
type preemptResult struct {
	sleeper time.Duration
	hog     time.Duration
}

func preemptScenario() scenario {
	return scenario{
		name:  "preempt",
		usage: "Run a sleeper alongside a CPU hog",
		description: `The hog computes for the given duration, polling its safepoint. The
sleeper must still wake on time, even with a single worker.`,
		flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "hog",
				Usage: "Run time of the CPU hog",
				Value: 200 * time.Millisecond,
			},
			&cli.DurationFlag{
				Name:  "sleep",
				Usage: "Sleep duration of the sleeper",
				Value: 5 * time.Millisecond,
			},
		},
		root: func(c *cli.Context) taskrt.Continuation {
			var (
				hogFor   = c.Duration("hog")
				sleepFor = c.Duration("sleep")
				result   preemptResult
				start    time.Time
				g        *taskrt.Gather
			)
			hog := taskrt.ContinuationFunc(func(c *taskrt.Context) taskrt.Step {
				for time.Since(start) < hogFor {
					if c.Safepoint() {
						return c.Yield()
					}
				}
				result.hog = time.Since(start)
				return c.Done(nil)
			})
			sleeper := taskrt.Steps(
				func(c *taskrt.Context) taskrt.Step { return c.Sleep(sleepFor) },
				func(c *taskrt.Context) taskrt.Step {
					result.sleeper = time.Since(start)
					return c.Done(nil)
				},
			)
			return taskrt.Steps(
				func(c *taskrt.Context) taskrt.Step {
					start = time.Now()
					a, err := c.Spawn(hog)
					if err != nil {
						return c.Fail(err)
					}
					b, err := c.Spawn(sleeper)
					if err != nil {
						return c.Fail(err)
					}
					g = c.Gather(a, b)
					return c.Await(g)
				},
				func(c *taskrt.Context) taskrt.Step {
					if _, err := g.Result(); err != nil {
						return c.Fail(err)
					}
					return c.Done(result)
				},
			)
		},
		report: func(c *cli.Context, w io.Writer, v any, _ time.Duration) {
			result := v.(preemptResult)
			fmt.Fprintf(w, "Sleeper woke after: %v (slept %v)\n", result.sleeper, c.Duration("sleep"))
			fmt.Fprintf(w, "Hog finished after: %v\n", result.hog)
			fmt.Fprintf(w, "Starved: %t\n", result.sleeper >= result.hog)
		},
	}
}
