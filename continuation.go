// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"time"
)

// Continuation is the resumable body of a task, written as an explicit
// state machine. Each call to Resume runs the task until its next
// suspension point, and returns the Step describing it, built with the
// methods of the provided Context.
//
// Resume is never called concurrently for the same task, but successive
// calls may happen on different workers. The Context is only valid for the
// duration of the call.
//
// Long computations should poll Context.Safepoint and return Context.Yield
// when it reports true, otherwise they cannot be preempted.
type Continuation interface {
	Resume(c *Context) Step
}

// ContinuationFunc adapts a function to Continuation. State carried between
// resumes lives in the closure.
type ContinuationFunc func(c *Context) Step

// Resume calls f(c).
func (f ContinuationFunc) Resume(c *Context) Step {
	return f(c)
}

// Func adapts a function that completes within a single resume. A non-nil
// error fails the task.
func Func(fn func(c *Context) (any, error)) Continuation {
	return ContinuationFunc(func(c *Context) Step {
		return c.Return(fn(c))
	})
}

// Steps returns a continuation that calls each stage in turn, one per
// resume. The last stage must complete the task, resuming past it fails the
// task with ErrInvalidStep.
func Steps(stages ...func(c *Context) Step) Continuation {
	var next int
	return ContinuationFunc(func(c *Context) Step {
		if next >= len(stages) {
			return Step{}
		}
		stage := stages[next]
		next++
		return stage(c)
	})
}

type stepKind uint8

const (
	stepInvalid stepKind = iota
	stepYield
	stepSleep
	stepAwait
	stepAgain
	stepDone
	stepFail
)

func (k stepKind) String() string {
	switch k {
	case stepYield:
		return "yield"
	case stepSleep:
		return "sleep"
	case stepAwait:
		return "await"
	case stepAgain:
		return "again"
	case stepDone:
		return "done"
	case stepFail:
		return "fail"
	default:
		return "invalid"
	}
}

// Step is the signal a continuation returns from Resume: yielded, waiting
// (on a timer or awaitable), completed with a value, or failed. The zero
// value is invalid, and fails the task with ErrInvalidStep.
type Step struct {
	deadline time.Time
	value    any
	err      error
	target   Awaitable
	kind     stepKind
}

// String returns the step kind.
func (s Step) String() string {
	return s.kind.String()
}
