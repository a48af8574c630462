// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Command taskrt runs benchmark scenarios against the taskrt scheduler.
//
// Every flag may also be set via a TASKRT_* environment variable, e.g.
//
//	TASKRT_WORKERS=4 taskrt --log-level=debug latency --tasks=10000
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "taskrt",
		Usage: "Run benchmark scenarios against the work-stealing task scheduler",
		Description: `Each command runs one scenario on a fresh scheduler, then prints its
results, followed by the scheduler's diagnostic counters.

Scenarios:
  spawn    spawn and join many trivial tasks
  switch   context switch throughput, via explicit yields
  latency  timer wake latency percentiles
  fanout   CPU-bound fan-out, joined via gather
  io       simulated I/O fan-out, via concurrent sleeps
  preempt  a sleeper competing with a CPU hog`,
		Flags:    globalFlags(),
		Before:   setup,
		After:    teardown,
		Commands: scenarioCommands(),
	}
}
