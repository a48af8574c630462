// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"context"
	"slices"
	"sync/atomic"
)

// GatherPolicy determines what a join does when one of its children fails.
type GatherPolicy uint8

const (
	// GatherRunAll lets every child run to completion. This is the default.
	GatherRunAll GatherPolicy = iota
	// GatherCancelSiblings cancels the remaining children as soon as one
	// fails or is cancelled.
	GatherCancelSiblings
)

// String returns a human-readable representation of the policy.
func (p GatherPolicy) String() string {
	switch p {
	case GatherRunAll:
		return "run-all"
	case GatherCancelSiblings:
		return "cancel-siblings"
	default:
		return "unknown"
	}
}

// Gather is an ordered join over a group of tasks. It settles exactly once,
// after every child has reached a terminal state.
//
// On success the results are in the order the handles were given,
// regardless of completion order. Otherwise the join fails with a
// *GatherError for the lowest-indexed child that failed with a *TaskError,
// or, if no child failed, the lowest-indexed cancelled child. Reading the
// outcome of a join marks every child as observed.
//
// A join over zero tasks settles immediately.
type Gather struct {
	completion

	handles   []*Task
	results   []any
	err       error
	remaining atomic.Int64
	tripped   atomic.Bool
	policy    GatherPolicy
}

// NewGather joins the given tasks, using the gather policy of their
// scheduler. It is for use outside of tasks, see also Context.Gather.
func NewGather(handles ...*Task) *Gather {
	policy := GatherRunAll
	if len(handles) != 0 && handles[0] != nil {
		policy = handles[0].sched.opts.gatherPolicy
	}
	return newGather(policy, nil, handles)
}

func newGather(policy GatherPolicy, w *worker, handles []*Task) *Gather {
	g := &Gather{
		handles: slices.Clone(handles),
		policy:  policy,
	}
	for _, h := range g.handles {
		if h == nil {
			panic("taskrt: gather of nil task")
		}
	}
	if len(g.handles) == 0 {
		g.settle(w, func() {
			g.results = []any{}
		})
		return g
	}
	g.remaining.Store(int64(len(g.handles)))
	for _, h := range g.handles {
		fn := func(by *worker) {
			g.childSettled(by, h)
		}
		if !h.subscribe(fn) {
			fn(w)
		}
	}
	return g
}

// Len returns the number of joined tasks.
func (g *Gather) Len() int {
	return len(g.handles)
}

// Tasks returns the joined tasks, in order.
func (g *Gather) Tasks() []*Task {
	return slices.Clone(g.handles)
}

// Result returns the ordered results, or the join's error. It returns
// ErrNotSettled if any child is still running.
func (g *Gather) Result() ([]any, error) {
	if !g.settled.Load() {
		return nil, ErrNotSettled
	}
	return g.results, g.err
}

// Wait blocks until the join settles or ctx is done. It is for use outside
// of tasks, a continuation must use Context.Await instead.
func (g *Gather) Wait(ctx context.Context) ([]any, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.Result()
}

func (g *Gather) childSettled(w *worker, h *Task) {
	if g.policy == GatherCancelSiblings &&
		h.State() != StateCompletedOk &&
		!g.tripped.Swap(true) {
		for _, sibling := range g.handles {
			if sibling != h {
				sibling.sched.cancel(sibling)
			}
		}
	}
	if g.remaining.Add(-1) == 0 {
		g.resolve(w)
	}
}

func (g *Gather) resolve(w *worker) {
	var (
		results   = make([]any, len(g.handles))
		failed    = -1
		cancelled = -1
		failErr   error
		cancelErr error
	)
	for i, h := range g.handles {
		h.observed.Store(true)
		value, err := h.outcome()
		switch {
		case err == nil:
			results[i] = value
		case isCancellation(err):
			if cancelled < 0 {
				cancelled, cancelErr = i, err
			}
		default:
			if failed < 0 {
				failed, failErr = i, err
			}
		}
	}

	var err error
	switch {
	case failed >= 0:
		err = &GatherError{Index: failed, Err: failErr}
	case cancelled >= 0:
		err = &GatherError{Index: cancelled, Err: cancelErr}
	}

	g.settle(w, func() {
		if err != nil {
			g.err = err
		} else {
			g.results = results
		}
	})
}
