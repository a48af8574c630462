// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

// Stats is a point-in-time snapshot of the scheduler's diagnostic
// counters. Fields are read independently, so totals may be mutually
// inconsistent while tasks are running.
type Stats struct {
	Workers []WorkerStats

	// LiveTasks is the number of spawned tasks not yet in a terminal state.
	LiveTasks int64

	Spawned   uint64
	Completed uint64
	Failed    uint64
	Cancelled uint64

	// InjectorDepth is the length of the global run queue.
	InjectorDepth int

	// PendingTimers is the number of timer entries, including cancelled
	// entries not yet reached by the wheel.
	PendingTimers int

	// PreemptRequests is the number of times the monitor asked a task to
	// yield.
	PreemptRequests uint64

	// IdleWorkers is the number of parked workers.
	IdleWorkers int
}

// WorkerStats are the counters of a single worker.
type WorkerStats struct {
	ID int

	// QueueDepth is the length of the worker's local queue.
	QueueDepth int

	// Executed is the number of scheduling slices run.
	Executed uint64

	// Steals is the number of successful steal operations, and Stolen the
	// number of tasks they moved.
	Steals uint64
	Stolen uint64

	// Preemptions counts forced yields, Yields voluntary ones.
	Preemptions uint64
	Yields      uint64

	// Parks is the number of times the worker went idle.
	Parks uint64

	// Running is the id of the task being resumed, or 0.
	Running uint64
}

// Stats returns a snapshot of the diagnostic counters.
func (s *Scheduler) Stats() Stats {
	stats := Stats{
		Workers:         make([]WorkerStats, len(s.workers)),
		LiveTasks:       s.live.Load(),
		Spawned:         s.spawned.Load(),
		Completed:       s.completed.Load(),
		Failed:          s.failed.Load(),
		Cancelled:       s.cancelled.Load(),
		InjectorDepth:   s.injector.len(),
		PendingTimers:   s.timers.len(),
		PreemptRequests: s.monitor.requests.Load(),
		IdleWorkers:     int(s.idle.count.Load()),
	}
	for i, w := range s.workers {
		ws := WorkerStats{
			ID:          w.id,
			QueueDepth:  w.local.len(),
			Executed:    w.counters.executed.Load(),
			Steals:      w.counters.steals.Load(),
			Stolen:      w.counters.stolen.Load(),
			Preemptions: w.counters.preemptions.Load(),
			Yields:      w.counters.yields.Load(),
			Parks:       w.counters.parks.Load(),
		}
		if t := w.current.Load(); t != nil {
			ws.Running = t.id
		}
		stats.Workers[i] = ws
	}
	return stats
}

// Steals returns the total steal operations across workers.
func (x Stats) Steals() (total uint64) {
	for _, w := range x.Workers {
		total += w.Steals
	}
	return
}

// Preemptions returns the total forced yields across workers.
func (x Stats) Preemptions() (total uint64) {
	for _, w := range x.Workers {
		total += w.Preemptions
	}
	return
}

// Executed returns the total scheduling slices across workers.
func (x Stats) Executed() (total uint64) {
	for _, w := range x.Workers {
		total += w.Executed
	}
	return
}
