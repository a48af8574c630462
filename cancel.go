// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

// Cancel requests cooperative cancellation of t. The request is observed
// the next time t suspends (yield, sleep, or await of an incomplete
// awaitable), or immediately if it has not started running, after which t
// completes with a *CancelledError. A task that is sleeping or awaiting is
// woken to observe it. Running code may also poll Context.Cancelled or
// Context.Safepoint.
//
// Unless disabled via WithCancelPropagation, the request is propagated to
// every task t spawned.
//
// Cancel returns false, without effect, if t has already completed (or
// belongs to another scheduler). Cancelling twice is harmless.
func (s *Scheduler) Cancel(t *Task) bool {
	if t == nil || t.sched != s {
		return false
	}
	return s.cancel(t)
}

func (s *Scheduler) cancel(t *Task) bool {
	if t.word.state().Terminal() {
		return false
	}
	if t.cancelled.Swap(true) {
		return true
	}

	if e := t.timer.Load(); e != nil {
		e.dead.Store(true)
	}

	if s.opts.cancelPropagation {
		for _, child := range t.takeChildren() {
			s.cancel(child)
		}
	}

	if gen, state := t.word.load(); state == StateWaiting {
		s.wakeTask(t, gen, nil)
	}

	s.logger.Trace().
		Uint64("scheduler", s.id).
		Uint64("task", t.id).
		Log("task cancellation requested")

	return true
}

// cancelAll cancels every live task, and every task spawned from now on.
func (s *Scheduler) cancelAll() {
	s.cancelling.Store(true)
	for _, t := range s.registry.liveTasks() {
		s.cancel(t)
	}
}
