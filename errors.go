// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrSchedulerRunning is returned when Run is called on a scheduler that
	// is already running.
	ErrSchedulerRunning = errors.New("taskrt: scheduler is already running")

	// ErrSchedulerTerminated is returned by operations on a scheduler whose
	// Run has returned, or which was shut down before it ran.
	ErrSchedulerTerminated = errors.New("taskrt: scheduler has been terminated")

	// ErrSchedulerShutdown is returned by Run when Shutdown interrupted it
	// before the root task completed.
	ErrSchedulerShutdown = errors.New("taskrt: scheduler was shut down")

	// ErrTaskLimit indicates the live task limit configured by WithMaxTasks
	// would be exceeded.
	ErrTaskLimit = errors.New("taskrt: live task limit exceeded")

	// ErrNotSettled is returned when reading the result of an awaitable that
	// has not completed yet.
	ErrNotSettled = errors.New("taskrt: not settled")

	// ErrNilContinuation is returned when spawning a nil continuation.
	ErrNilContinuation = errors.New("taskrt: nil continuation")

	// ErrInvalidStep is the failure recorded for a task whose continuation
	// returned a zero Step.
	ErrInvalidStep = errors.New("taskrt: continuation returned an invalid step")

	// ErrCancelled matches any *CancelledError, via errors.Is.
	ErrCancelled error = &CancelledError{}
)

// TaskError is the outcome of a task that completed with an application
// error. It is stored in the task's result slot, and surfaces from Run,
// Task.Result, and (wrapped in a GatherError) from joins.
type TaskError struct {
	// Err is the error the continuation failed with.
	Err error
	// TaskID identifies the failed task.
	TaskID uint64
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("taskrt: task %d failed: %v", e.TaskID, e.Err)
}

// Unwrap returns the application error.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// CancelledError is the cancellation marker stored in the result slot of a
// task that observed a cancellation request. It is distinct from TaskError.
type CancelledError struct {
	TaskID uint64
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.TaskID == 0 {
		return "taskrt: task cancelled"
	}
	return fmt.Sprintf("taskrt: task %d cancelled", e.TaskID)
}

// Is reports any *CancelledError as matching, so errors.Is(err, ErrCancelled)
// works regardless of the task id.
func (e *CancelledError) Is(target error) bool {
	_, ok := target.(*CancelledError)
	return ok
}

// FatalError is returned to the immediate caller of a scheduler operation
// that cannot proceed, e.g. spawning past the task limit, or after the
// scheduler has terminated.
type FatalError struct {
	Err error
	Op  string
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("taskrt: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking continuation.
// The task completes with a TaskError wrapping this value.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("taskrt: continuation panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// GatherError reports the failure of a join. Index is the spawn position
// (within the gathered handles) of the child whose outcome was selected,
// see Gather for the selection rule.
type GatherError struct {
	Err   error
	Index int
}

// Error implements the error interface.
func (e *GatherError) Error() string {
	return fmt.Sprintf("taskrt: gather child %d: %v", e.Index, e.Err)
}

// Unwrap returns the child's outcome error (a *TaskError or *CancelledError).
func (e *GatherError) Unwrap() error {
	return e.Err
}

// UnobservedError describes a failed task whose outcome was never read
// before its handle became unreachable or the scheduler finished.
type UnobservedError struct {
	Err    error
	TaskID uint64
}

// Error implements the error interface.
func (e *UnobservedError) Error() string {
	return fmt.Sprintf("taskrt: unobserved failure of task %d: %v", e.TaskID, e.Err)
}

// Unwrap returns the task's outcome error.
func (e *UnobservedError) Unwrap() error {
	return e.Err
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled)
}
