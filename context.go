// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"time"
)

// Context is passed to Continuation.Resume. It identifies the running task
// and builds the Step values that suspend or complete it.
//
// A Context must not be retained past the Resume call it was passed to.
type Context struct {
	s *Scheduler
	w *worker
	t *Task
}

// Task returns the handle of the running task.
func (c *Context) Task() *Task {
	return c.t
}

// Scheduler returns the scheduler running the task.
func (c *Context) Scheduler() *Scheduler {
	return c.s
}

// WorkerID returns the id of the worker resuming the task.
func (c *Context) WorkerID() int {
	return c.w.id
}

// Now returns the current time.
func (c *Context) Now() time.Time {
	return time.Now()
}

// Spawn creates a child of the running task. The child is queued on the
// current worker and recorded for cancellation propagation.
func (c *Context) Spawn(cont Continuation) (*Task, error) {
	return c.s.spawn(cont, c.t, c.w)
}

// Yield suspends the task, leaving it runnable.
func (c *Context) Yield() Step {
	return Step{kind: stepYield}
}

// Sleep suspends the task until at least d has elapsed. A non-positive d
// behaves like Yield, except for the cancellation check being identical to
// any other suspension.
func (c *Context) Sleep(d time.Duration) Step {
	return Step{kind: stepSleep, deadline: time.Now().Add(d)}
}

// SleepUntil suspends the task until the deadline.
func (c *Context) SleepUntil(deadline time.Time) Step {
	return Step{kind: stepSleep, deadline: deadline}
}

// Await suspends the task until a settles. If it already has, the task is
// resumed again immediately, without suspending.
func (c *Context) Await(a Awaitable) Step {
	if a == nil {
		panic("taskrt: await of nil awaitable")
	}
	if a.Settled() {
		return Step{kind: stepAgain}
	}
	return Step{kind: stepAwait, target: a}
}

// Gather joins the given tasks, see Gather. The result must be awaited to
// be observed from within a task.
func (c *Context) Gather(handles ...*Task) *Gather {
	return newGather(c.s.opts.gatherPolicy, c.w, handles)
}

// Done completes the task with a value.
func (c *Context) Done(value any) Step {
	return Step{kind: stepDone, value: value}
}

// Fail completes the task with an error. A nil error completes it with a
// nil value.
func (c *Context) Fail(err error) Step {
	if err == nil {
		return Step{kind: stepDone}
	}
	return Step{kind: stepFail, err: err}
}

// Return is Done or Fail, depending on err.
func (c *Context) Return(value any, err error) Step {
	if err != nil {
		return c.Fail(err)
	}
	return c.Done(value)
}

// ShouldYield reports whether the preemption monitor has asked the task to
// yield.
func (c *Context) ShouldYield() bool {
	return c.t.shouldYield.Load()
}

// Cancelled reports whether cancellation has been requested for the task.
func (c *Context) Cancelled() bool {
	return c.t.cancelled.Load()
}

// Safepoint reports whether the task should suspend now, either because it
// has been asked to yield, or because it was cancelled. Long computations
// poll it, and return Yield when it reports true.
func (c *Context) Safepoint() bool {
	return c.t.shouldYield.Load() || c.t.cancelled.Load()
}

// Cancel requests cancellation of another task, see Scheduler.Cancel.
func (c *Context) Cancel(t *Task) bool {
	return c.s.Cancel(t)
}
