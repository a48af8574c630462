// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package taskrt provides a work-stealing task runtime for Go, running
// large numbers of cooperatively scheduled tasks across a pool of workers,
// with timers, structured joins, cooperative cancellation, and time-slice
// based preemption requests.
//
// # Architecture
//
// A [Scheduler] owns one worker goroutine per available core (see
// [AvailableCores] and [WithWorkers]). Each worker has a local run queue,
// and they share a global injector queue, a hashed timer wheel, and a
// monitor goroutine.
//
// Workers take work in this order:
//  1. Every 61st round, the injector (so it cannot be starved)
//  2. The local queue, newest first
//  3. A batch from the injector
//  4. Half of another worker's local queue, oldest first (stealing)
//  5. Due timers
//
// before parking with exponential backoff, bounded by the next timer.
//
// # Tasks and Continuations
//
// A task's body is a [Continuation], an explicit state machine resumed by
// a worker until its next suspension point. Resume returns a [Step], built
// using the [Context]:
//
//   - [Context.Yield] leaves the task runnable
//   - [Context.Sleep] suspends it on the timer wheel
//   - [Context.Await] suspends it until a [Task], [Gather] or [Future] settles
//   - [Context.Done] and [Context.Fail] complete it
//
// Tasks spawned from within a task ([Context.Spawn]) run on the spawning
// worker unless stolen, and are recorded as children for cancellation
// propagation.
//
// # Preemption
//
// The monitor asks any task that has run for longer than the time slice
// ([WithTimeSlice]) to yield. The request is a flag, polled by the task at
// safepoints ([Context.Safepoint], [Context.ShouldYield]). A task that
// never polls cannot be preempted.
//
// # Cancellation
//
// Cancellation ([Scheduler.Cancel], [Task.Cancel]) is cooperative, and is
// observed at suspension points, after which the task completes with a
// [*CancelledError] (see [ErrCancelled]).
//
// # Usage
//
//	value, err := taskrt.Run(ctx, taskrt.ContinuationFunc(func(c *taskrt.Context) taskrt.Step {
//	    return c.Done("hello")
//	}))
//
// See the examples directory for joins, sleeps and preemption.
package taskrt
