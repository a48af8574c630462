// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"sync/atomic"
)

// TaskState is the lifecycle state of a task.
//
// State Machine:
//
//	StateCreated → StateRunnable              [Spawn]
//	StateRunnable → StateRunning              [worker dequeue]
//	StateRunning → StateRunnable              [yield, forced yield]
//	StateRunning → StateWaiting               [sleep, await incomplete]
//	StateWaiting → StateRunnable              [timer fire, awaitable settled, cancel]
//	StateRunning → StateCompletedOk           [Done]
//	StateRunning → StateCompletedErr          [Fail, panic]
//	StateRunning → StateCancelled             [cancel observed]
//
// Terminal states never change.
type TaskState uint8

const (
	// StateCreated is the state of a task that has not been enqueued.
	StateCreated TaskState = iota
	// StateRunnable indicates the task is queued, waiting for a worker.
	StateRunnable
	// StateRunning indicates a worker is currently resuming the task.
	StateRunning
	// StateWaiting indicates the task is suspended on a timer or awaitable.
	StateWaiting
	// StateCancelled is the terminal state of a task that observed a
	// cancellation request.
	StateCancelled
	// StateCompletedOk is the terminal state of a task that returned a value.
	StateCompletedOk
	// StateCompletedErr is the terminal state of a task that failed.
	StateCompletedErr
)

// String returns a human-readable representation of the state.
func (s TaskState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunnable:
		return "Runnable"
	case StateRunning:
		return "Running"
	case StateWaiting:
		return "Waiting"
	case StateCancelled:
		return "Cancelled"
	case StateCompletedOk:
		return "CompletedOk"
	case StateCompletedErr:
		return "CompletedErr"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is one of the completed states.
func (s TaskState) Terminal() bool {
	return s >= StateCancelled && s <= StateCompletedErr
}

const (
	stateBits = 8
	stateMask = 1<<stateBits - 1
)

func packState(gen uint64, s TaskState) uint64 {
	return gen<<stateBits | uint64(s)
}

// stateWord packs a wait generation above the TaskState. Every transition
// into StateWaiting starts a new generation, and a wakeup only succeeds if it
// names the generation it was registered under, so a timer that fires after
// a cancellation (or any other late signal) cannot resume the task twice.
type stateWord struct {
	v atomic.Uint64
}

func (w *stateWord) load() (gen uint64, state TaskState) {
	v := w.v.Load()
	return v >> stateBits, TaskState(v & stateMask)
}

func (w *stateWord) state() TaskState {
	return TaskState(w.v.Load() & stateMask)
}

// transition moves from one state to another, preserving the generation.
func (w *stateWord) transition(from, to TaskState) bool {
	for {
		v := w.v.Load()
		if TaskState(v&stateMask) != from {
			return false
		}
		if w.v.CompareAndSwap(v, v&^stateMask|uint64(to)) {
			return true
		}
	}
}

// park moves a running task to StateWaiting under a fresh generation, which
// is returned for use by the wakeup source(s).
func (w *stateWord) park() (uint64, bool) {
	for {
		v := w.v.Load()
		if TaskState(v&stateMask) != StateRunning {
			return 0, false
		}
		gen := v>>stateBits + 1
		if w.v.CompareAndSwap(v, packState(gen, StateWaiting)) {
			return gen, true
		}
	}
}

// wake moves a waiting task back to StateRunnable, if and only if it is
// still waiting under gen.
func (w *stateWord) wake(gen uint64) bool {
	return w.v.CompareAndSwap(packState(gen, StateWaiting), packState(gen, StateRunnable))
}

// finish moves a task from any non-terminal state to a terminal one.
func (w *stateWord) finish(to TaskState) bool {
	for {
		v := w.v.Load()
		if TaskState(v & stateMask).Terminal() {
			return false
		}
		if w.v.CompareAndSwap(v, v&^stateMask|uint64(to)) {
			return true
		}
	}
}

// schedulerState is the lifecycle of a Scheduler.
//
//	schedulerIdle → schedulerRunning       [Run]
//	schedulerIdle → schedulerTerminated    [Shutdown before Run]
//	schedulerRunning → schedulerTerminated [Run returns]
type schedulerState uint64

const (
	schedulerIdle schedulerState = iota
	schedulerRunning
	schedulerTerminated
)

func (s schedulerState) String() string {
	switch s {
	case schedulerIdle:
		return "Idle"
	case schedulerRunning:
		return "Running"
	case schedulerTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastSchedulerState is a lock-free state machine with cache-line padding,
// it is read on every spawn.
type fastSchedulerState struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // state value
	_ [56]byte      //nolint:unused
}

func (s *fastSchedulerState) Load() schedulerState {
	return schedulerState(s.v.Load())
}

func (s *fastSchedulerState) Store(state schedulerState) {
	s.v.Store(uint64(state))
}

func (s *fastSchedulerState) TryTransition(from, to schedulerState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}
