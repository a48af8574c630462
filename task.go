// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Task is the handle of a spawned task. It is awaitable, and its result
// slot stays readable for as long as the handle is held.
type Task struct {
	completion

	value  any
	err    error
	sched  *Scheduler
	cont   Continuation
	parent *Task
	timer  atomic.Pointer[timerEntry]

	children []*Task
	childMu  sync.Mutex

	id          uint64
	word        stateWord
	runtime     atomic.Int64
	cancelled   atomic.Bool
	shouldYield atomic.Bool
	observed    atomic.Bool
}

// ID returns the task id, unique within the scheduler.
func (t *Task) ID() uint64 {
	return t.id
}

// State returns the current state.
func (t *Task) State() TaskState {
	return t.word.state()
}

// Parent returns the task that spawned t from within its continuation, or
// nil.
func (t *Task) Parent() *Task {
	return t.parent
}

// Runtime returns the time spent resuming the task.
func (t *Task) Runtime() time.Duration {
	return time.Duration(t.runtime.Load())
}

// CancelRequested reports whether cancellation has been requested. The task
// may still complete normally, if it never reaches another suspension point.
func (t *Task) CancelRequested() bool {
	return t.cancelled.Load()
}

// Result returns the outcome: the value, a *TaskError, or a
// *CancelledError. It returns ErrNotSettled if the task has not completed.
// Reading a settled result marks the failure (if any) as observed.
func (t *Task) Result() (any, error) {
	if !t.settled.Load() {
		return nil, ErrNotSettled
	}
	t.observed.Store(true)
	return t.value, t.err
}

// Wait blocks until the task completes or ctx is done. It is for use
// outside of tasks, a continuation must use Context.Await instead.
func (t *Task) Wait(ctx context.Context) (any, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.Result()
}

// Cancel requests cancellation, see Scheduler.Cancel.
func (t *Task) Cancel() bool {
	return t.sched.Cancel(t)
}

// outcome reads the result without marking it observed.
func (t *Task) outcome() (any, error) {
	return t.value, t.err
}

// addChild records a child for cancellation propagation, and reports
// whether the parent was already cancelled.
func (t *Task) addChild(child *Task) bool {
	t.childMu.Lock()
	defer t.childMu.Unlock()
	if t.word.state().Terminal() {
		return false
	}
	t.children = append(t.children, child)
	return t.cancelled.Load()
}

func (t *Task) takeChildren() []*Task {
	t.childMu.Lock()
	defer t.childMu.Unlock()
	return t.children
}

func (t *Task) releaseChildren() {
	t.childMu.Lock()
	t.children = nil
	t.childMu.Unlock()
}
