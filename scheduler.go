// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// OrphanPolicy determines what Run does with tasks that are still live once
// the root task has completed.
type OrphanPolicy uint8

const (
	// OrphansWait drives the whole spawn tree to completion before Run
	// returns. This is the default.
	OrphansWait OrphanPolicy = iota
	// OrphansCancel cancels every remaining task once the root completes,
	// then waits for them to observe it.
	OrphansCancel
)

// String returns a human-readable representation of the policy.
func (p OrphanPolicy) String() string {
	switch p {
	case OrphansWait:
		return "wait"
	case OrphansCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

var schedulerIDCounter atomic.Uint64

// Scheduler runs tasks on a pool of workers, each with a local run queue,
// sharing a global injector queue and a timer wheel. Idle workers steal
// from busy ones, and a monitor goroutine asks long-running tasks to yield.
//
// A Scheduler runs once: New, optionally Spawn, then Run.
type Scheduler struct {
	_ [0]func() // non-comparable

	logger   *logiface.Logger[logiface.Event]
	opts     *schedulerOptions
	anchor   time.Time
	workers  []*worker
	injector injector
	timers   *timerWheel
	registry *registry
	metrics  *metricsRecorder
	monitor  *monitor

	// testHooks are injection points for tests, nil otherwise
	testHooks *schedulerTestHooks

	drained    chan struct{}
	stopCh     chan struct{}
	shutdownCh chan struct{}
	runDone    chan struct{}

	unobserved   []error
	unobservedMu sync.Mutex

	shutdownOnce sync.Once
	runDoneOnce  sync.Once

	idle idleSet

	state fastSchedulerState

	id         uint64
	nextTaskID atomic.Uint64
	live       atomic.Int64
	spawned    atomic.Uint64
	completed  atomic.Uint64
	failed     atomic.Uint64
	cancelled  atomic.Uint64
	stopping   atomic.Bool
	cancelling atomic.Bool
}

// schedulerTestHooks provides injection points for testing failure paths.
type schedulerTestHooks struct {
	// BeforeExecute is called by a worker, outside any recovery of
	// continuation panics, before it executes t.
	BeforeExecute func(t *Task)
}

// New creates a Scheduler.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		id:         schedulerIDCounter.Add(1),
		logger:     cfg.logger,
		opts:       cfg,
		anchor:     time.Now(),
		registry:   newRegistry(),
		drained:    make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		shutdownCh: make(chan struct{}),
		runDone:    make(chan struct{}),
	}
	s.timers = newTimerWheel(s.anchor, cfg.tick)
	if cfg.metricsEnabled {
		s.metrics = newMetricsRecorder()
	}
	s.workers = make([]*worker, cfg.workers)
	for i := range s.workers {
		s.workers[i] = newWorker(s, i)
	}
	s.monitor = newMonitor(s)

	return s, nil
}

// Run creates a Scheduler with the given options, and runs root on it.
func Run(ctx context.Context, root Continuation, opts ...Option) (any, error) {
	s, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, root)
}

// ID returns the scheduler's process-unique id.
func (s *Scheduler) ID() uint64 {
	return s.id
}

// Workers returns the size of the worker pool.
func (s *Scheduler) Workers() int {
	return len(s.workers)
}

// Run spawns root, starts the workers, and blocks until root and (per the
// OrphanPolicy) every other task has completed. It returns root's value, or
// its outcome error (a *TaskError or *CancelledError).
//
// If ctx is done first, or Shutdown is called, every live task is
// cancelled, and once they have all observed it, Run returns the
// corresponding error, joined with root's outcome. Cancellation is
// cooperative: a task that never suspends keeps Run waiting.
//
// Run may only be called once.
func (s *Scheduler) Run(ctx context.Context, root Continuation) (any, error) {
	if root == nil {
		return nil, ErrNilContinuation
	}
	if !s.state.TryTransition(schedulerIdle, schedulerRunning) {
		if s.state.Load() == schedulerRunning {
			return nil, ErrSchedulerRunning
		}
		return nil, ErrSchedulerTerminated
	}
	defer s.closeRunDone()

	rootTask, err := s.spawn(root, nil, nil)
	if err != nil {
		s.terminate()
		return nil, err
	}

	s.logger.Info().
		Uint64("scheduler", s.id).
		Int("workers", len(s.workers)).
		Dur("time_slice", s.opts.timeSlice).
		Dur("tick", s.opts.tick).
		Log("scheduler started")

	g, gctx := errgroup.WithContext(context.Background())
	for _, w := range s.workers {
		g.Go(func() error {
			return s.guard("worker", w.run)
		})
	}
	g.Go(func() error {
		return s.guard("monitor", s.monitor.run)
	})

	runErr := s.await(ctx, rootTask, gctx.Done())

	s.stopping.Store(true)
	close(s.stopCh)
	fatalErr := g.Wait()
	s.terminate()

	value, err := rootTask.Result()
	errs := []error{runErr, err, fatalErr}
	errs = append(errs, s.flushUnobserved()...)

	stats := s.Stats()
	s.logger.Info().
		Uint64("scheduler", s.id).
		Uint64("spawned", stats.Spawned).
		Uint64("completed", stats.Completed).
		Uint64("failed", stats.Failed).
		Uint64("cancelled", stats.Cancelled).
		Log("scheduler stopped")

	return value, joinErrors(errs...)
}

// guard runs one of the scheduler's own goroutines, converting a panic that
// escapes it into a *FatalError, which stops Run.
func (s *Scheduler) guard(op string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Err().
				Uint64("scheduler", s.id).
				Str("op", op).
				Any("panic", r).
				Str("stack", string(debug.Stack())).
				Log("scheduler goroutine panicked")
			err = &FatalError{Op: op, Err: fmt.Errorf("internal panic: %v", r)}
		}
	}()
	fn()
	return nil
}

// await blocks until root completes and the live count reaches zero, or
// fatal is closed.
func (s *Scheduler) await(ctx context.Context, root *Task, fatal <-chan struct{}) error {
	var (
		runErr   error
		rootDone = root.Done()
		ctxDone  = ctx.Done()
		shutdown = s.shutdownCh
	)
	for {
		if rootDone == nil && s.live.Load() == 0 {
			return runErr
		}
		select {
		case <-rootDone:
			rootDone = nil
			if s.opts.orphans == OrphansCancel && s.live.Load() > 0 {
				s.logger.Debug().
					Uint64("scheduler", s.id).
					Int64("orphans", s.live.Load()).
					Log("cancelling orphaned tasks")
				s.cancelAll()
			}

		case <-s.drained:

		case <-fatal:
			return runErr

		case <-ctxDone:
			ctxDone = nil
			if rootDone != nil {
				runErr = ctx.Err()
			}
			s.logger.Warning().
				Uint64("scheduler", s.id).
				Err(ctx.Err()).
				Log("context done, cancelling all tasks")
			s.cancelAll()

		case <-shutdown:
			shutdown = nil
			if rootDone != nil {
				runErr = ErrSchedulerShutdown
			}
			s.cancelAll()
		}
	}
}

// Shutdown cancels every live task, and waits for Run to return, or ctx to
// be done. Calling Shutdown on a scheduler that has not run terminates it,
// and cancels any tasks spawned on it.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
	if s.state.TryTransition(schedulerIdle, schedulerTerminated) {
		s.terminate()
		s.closeRunDone()
		return nil
	}
	select {
	case <-s.runDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) closeRunDone() {
	s.runDoneOnce.Do(func() {
		close(s.runDone)
	})
}

// terminate refuses further spawns, and cancels any task that slipped in.
func (s *Scheduler) terminate() {
	s.state.Store(schedulerTerminated)
	for _, t := range s.registry.liveTasks() {
		s.finishCancelled(t, nil)
	}
}

// Spawn creates a task from outside of any task. It is queued on the
// injector, and has no parent. Tasks may be spawned before Run.
func (s *Scheduler) Spawn(cont Continuation) (*Task, error) {
	return s.spawn(cont, nil, nil)
}

func (s *Scheduler) spawn(cont Continuation, parent *Task, w *worker) (*Task, error) {
	if cont == nil {
		return nil, ErrNilContinuation
	}
	if s.state.Load() == schedulerTerminated {
		return nil, &FatalError{Op: "spawn", Err: ErrSchedulerTerminated}
	}

	live := s.live.Add(1)
	if limit := s.opts.maxTasks; limit > 0 && live > limit {
		s.releaseLive()
		s.logger.Warning().
			Uint64("scheduler", s.id).
			Int64("limit", limit).
			Limit().
			Log("task limit exceeded")
		return nil, &FatalError{Op: "spawn", Err: ErrTaskLimit}
	}

	t := &Task{
		id:     s.nextTaskID.Add(1),
		sched:  s,
		cont:   cont,
		parent: parent,
	}
	s.registry.addLive(t)
	if s.state.Load() == schedulerTerminated {
		s.registry.removeLive(t)
		s.releaseLive()
		return nil, &FatalError{Op: "spawn", Err: ErrSchedulerTerminated}
	}

	if parent != nil && s.opts.cancelPropagation && parent.addChild(t) {
		t.cancelled.Store(true)
	}
	if s.cancelling.Load() {
		t.cancelled.Store(true)
	}

	s.spawned.Add(1)
	t.word.transition(StateCreated, StateRunnable)
	s.enqueue(t, w)
	return t, nil
}

// enqueue makes a runnable task visible to the workers: on w's deque if
// called from a worker, otherwise on the injector.
func (s *Scheduler) enqueue(t *Task, w *worker) {
	if w != nil {
		w.local.pushBack(t)
	} else {
		s.injector.push(t)
	}
	s.wakeIdle()
}

func (s *Scheduler) wakeIdle() {
	if s.idle.count.Load() > 0 {
		s.idle.wakeOne()
	}
}

// wakeTask resumes a task waiting under gen. Stale wakeups are ignored.
func (s *Scheduler) wakeTask(t *Task, gen uint64, w *worker) {
	if !t.word.wake(gen) {
		return
	}
	if w != nil && w.s != s {
		w = nil
	}
	s.enqueue(t, w)
}

// leastLoaded returns the worker with the shortest local queue, preferring
// the given worker on ties.
func (s *Scheduler) leastLoaded(prefer *worker) *worker {
	best := prefer
	if best == nil {
		best = s.workers[0]
	}
	depth := best.local.len()
	for _, w := range s.workers {
		if depth == 0 {
			break
		}
		if d := w.local.len(); d < depth {
			best, depth = w, d
		}
	}
	return best
}

// pollTimers advances the timer wheel, if no one else is, and requeues due
// tasks on the least loaded workers. Returns the number of tasks woken.
func (s *Scheduler) pollTimers(w *worker, buf *[]*timerEntry) int {
	now := time.Now()
	if !s.timers.due(now) {
		return 0
	}
	due, ok := s.timers.tryAdvance(now, (*buf)[:0])
	if !ok {
		return 0
	}
	var n int
	for _, e := range due {
		t := e.task
		if !t.word.wake(e.gen) {
			continue
		}
		s.metrics.recordWake(now.Sub(e.deadline))
		s.leastLoaded(w).local.pushBack(t)
		n++
	}
	clear(due)
	*buf = due[:0]
	for i := 0; i < n && s.idle.count.Load() > 0; i++ {
		s.idle.wakeOne()
	}
	return n
}

func (s *Scheduler) finishCancelled(t *Task, w *worker) {
	s.finish(t, w, StateCancelled, nil, &CancelledError{TaskID: t.id})
}

// finish records the outcome of a task, and wakes its waiters.
func (s *Scheduler) finish(t *Task, w *worker, state TaskState, value any, err error) {
	if !t.settle(w, func() {
		t.value, t.err = value, err
		t.cont = nil
		t.word.finish(state)
	}) {
		return
	}

	t.timer.Store(nil)
	t.releaseChildren()
	s.registry.removeLive(t)

	switch state {
	case StateCompletedOk:
		s.completed.Add(1)
	case StateCompletedErr:
		s.failed.Add(1)
		if s.opts.unobserved != UnobservedRetain {
			s.registry.trackFailure(t, err)
		}
		s.logger.Debug().
			Uint64("scheduler", s.id).
			Uint64("task", t.id).
			Err(err).
			Log("task failed")
	case StateCancelled:
		s.cancelled.Add(1)
	}
	s.metrics.recordCompletion()
	s.releaseLive()
}

func (s *Scheduler) releaseLive() {
	if s.live.Add(-1) == 0 {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	}
}

// reportUnobserved applies the UnobservedErrorPolicy.
func (s *Scheduler) reportUnobserved(errs []*UnobservedError) {
	if len(errs) == 0 {
		return
	}
	for _, err := range errs {
		s.logger.Warning().
			Uint64("scheduler", s.id).
			Uint64("task", err.TaskID).
			Err(err.Err).
			Limit().
			Log("unobserved task failure")
	}
	if s.opts.unobserved == UnobservedFail {
		s.unobservedMu.Lock()
		for _, err := range errs {
			s.unobserved = append(s.unobserved, err)
		}
		s.unobservedMu.Unlock()
	}
}

// flushUnobserved reports every remaining failure, and returns the errors
// to join into Run's result.
func (s *Scheduler) flushUnobserved() []error {
	s.reportUnobserved(s.registry.drain())
	s.unobservedMu.Lock()
	defer s.unobservedMu.Unlock()
	errs := s.unobserved
	s.unobserved = nil
	return errs
}

// Metrics returns a snapshot of the runtime metrics, and false if they are
// disabled, see WithMetrics.
func (s *Scheduler) Metrics() (Metrics, bool) {
	if s.metrics == nil {
		return Metrics{}, false
	}
	return s.metrics.snapshot(), true
}

func (s *Scheduler) nanotime() int64 {
	return int64(time.Since(s.anchor))
}

// joinErrors is errors.Join, except a single error is returned as is.
func joinErrors(errs ...error) error {
	var (
		first error
		n     int
	)
	for _, err := range errs {
		if err != nil {
			if n == 0 {
				first = err
			}
			n++
		}
	}
	switch n {
	case 0:
		return nil
	case 1:
		return first
	default:
		return errors.Join(errs...)
	}
}
