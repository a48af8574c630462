// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// fairnessInterval is how often (in schedule ticks) a worker checks the
	// injector before its local queue, so that a worker with a constantly
	// refilled local queue cannot starve the injector.
	fairnessInterval = 61

	// maxInjectorBatch bounds the tasks moved from the injector per grab.
	maxInjectorBatch = 32

	// initialIdlePark is the first park duration of an idle worker.
	initialIdlePark = 50 * time.Microsecond
)

type workerCounters struct {
	executed    atomic.Uint64
	steals      atomic.Uint64
	stolen      atomic.Uint64
	preemptions atomic.Uint64
	yields      atomic.Uint64
	parks       atomic.Uint64
}

// worker owns a local deque and resumes tasks on its own goroutine.
type worker struct {
	s          *Scheduler
	wake       chan struct{}
	backoff    *backoff.ExponentialBackOff
	parkTimer  *time.Timer
	due        []*timerEntry
	ctx        Context
	local      deque
	counters   workerCounters
	current    atomic.Pointer[Task]
	sliceStart atomic.Int64
	batch      [maxInjectorBatch]*Task
	id         int
	tick       uint32
	parked     bool // guarded by the idle set's mutex
}

func newWorker(s *Scheduler, id int) *worker {
	w := &worker{
		s:    s,
		id:   id,
		wake: make(chan struct{}, 1),
		backoff: &backoff.ExponentialBackOff{
			InitialInterval:     initialIdlePark,
			RandomizationFactor: 0.2,
			Multiplier:          2,
			MaxInterval:         s.opts.maxIdlePark,
		},
	}
	w.backoff.Reset()
	w.ctx = Context{s: s, w: w}
	return w
}

func (w *worker) run() {
	s := w.s
	s.logger.Debug().
		Uint64("scheduler", s.id).
		Int("worker", w.id).
		Log("worker started")

	w.parkTimer = time.NewTimer(time.Hour)
	w.parkTimer.Stop()
	defer w.parkTimer.Stop()

	for !s.stopping.Load() {
		t := w.findRunnable()
		if t == nil {
			if !w.park() {
				break
			}
			continue
		}
		w.backoff.Reset()
		if s.testHooks != nil && s.testHooks.BeforeExecute != nil {
			s.testHooks.BeforeExecute(t)
		}
		w.execute(t)
	}

	s.logger.Debug().
		Uint64("scheduler", s.id).
		Int("worker", w.id).
		Uint64("executed", w.counters.executed.Load()).
		Log("worker stopped")
}

// findRunnable returns the next task to run, or nil if there is none.
func (w *worker) findRunnable() *Task {
	s := w.s

	w.tick++
	if w.tick%fairnessInterval == 0 {
		if t := s.injector.pop(); t != nil {
			return t
		}
	}

	if t := w.local.popBack(); t != nil {
		return t
	}

	if t := w.grabInjector(); t != nil {
		return t
	}

	if t := w.steal(); t != nil {
		return t
	}

	if s.pollTimers(w, &w.due) > 0 {
		return w.local.popBack()
	}

	return nil
}

// grabInjector takes a fair share of the injector, running the first and
// queueing the rest locally.
func (w *worker) grabInjector() *Task {
	s := w.s
	depth := s.injector.len()
	if depth == 0 {
		return nil
	}
	n := min(depth/len(s.workers)+1, len(w.batch))
	n = s.injector.popBatch(w.batch[:n])
	if n == 0 {
		return nil
	}
	t := w.batch[0]
	for _, v := range w.batch[1:n] {
		w.local.pushBack(v)
	}
	clear(w.batch[:n])
	if s.injector.len() > 0 {
		s.wakeIdle()
	}
	return t
}

func (w *worker) steal() *Task {
	workers := w.s.workers
	if len(workers) < 2 {
		return nil
	}
	start := rand.IntN(len(workers))
	for i := range workers {
		victim := workers[(start+i)%len(workers)]
		if victim == w || victim.local.len() == 0 {
			continue
		}
		if t, n := victim.local.stealHalf(&w.local); t != nil {
			w.counters.steals.Add(1)
			w.counters.stolen.Add(uint64(n))
			if n > 1 {
				w.s.wakeIdle()
			}
			return t
		}
	}
	return nil
}

// hasWork is the re-check performed after registering as idle.
func (w *worker) hasWork() bool {
	s := w.s
	if w.local.len() > 0 || s.injector.len() > 0 {
		return true
	}
	for _, v := range s.workers {
		if v.local.len() > 0 {
			return true
		}
	}
	return s.timers.due(time.Now())
}

// park blocks until signalled, the backoff elapses, or the next timer is
// due. It returns false if the scheduler is stopping.
func (w *worker) park() bool {
	s := w.s
	s.idle.push(w)
	if w.hasWork() {
		s.idle.remove(w)
		return true
	}

	d := w.backoff.NextBackOff()
	if d <= 0 || d > s.opts.maxIdlePark {
		d = s.opts.maxIdlePark
	}
	if next, ok := s.timers.nextDeadline(); ok {
		if until := time.Until(next); until < d {
			d = until
		}
	}
	if d <= 0 {
		s.idle.remove(w)
		return true
	}

	w.counters.parks.Add(1)
	w.parkTimer.Reset(d)
	defer w.parkTimer.Stop()
	defer s.idle.remove(w)

	select {
	case <-w.wake:
		return true
	case <-w.parkTimer.C:
		return true
	case <-s.stopCh:
		return false
	}
}

func (w *worker) execute(t *Task) {
	s := w.s
	if !t.word.transition(StateRunnable, StateRunning) {
		return
	}
	if t.cancelled.Load() {
		s.finishCancelled(t, w)
		return
	}

	t.shouldYield.Store(false)
	w.ctx.t = t
	w.sliceStart.Store(s.nanotime())
	w.current.Store(t)

	var step Step
	for {
		begin := s.nanotime()
		step = w.resume(t)
		elapsed := s.nanotime() - begin
		t.runtime.Add(elapsed)
		s.metrics.recordResume(time.Duration(elapsed))
		if step.kind != stepAgain || t.shouldYield.Load() {
			break
		}
	}

	w.current.Store(nil)
	w.ctx.t = nil
	w.counters.executed.Add(1)
	w.dispatch(t, step)
}

func (w *worker) resume(t *Task) (step Step) {
	defer func() {
		if r := recover(); r != nil {
			step = Step{kind: stepFail, err: PanicError{Value: r, Stack: debug.Stack()}}
			w.s.logger.Err().
				Uint64("scheduler", w.s.id).
				Int("worker", w.id).
				Uint64("task", t.id).
				Any("panic", r).
				Log("continuation panicked")
		}
	}()
	return t.cont.Resume(&w.ctx)
}

// requeue puts a runnable task back after a yield, behind the rest of the
// local queue, or onto the injector if the monitor asked it to yield.
func (w *worker) requeue(t *Task) {
	if t.shouldYield.Load() {
		w.counters.preemptions.Add(1)
		w.s.injector.push(t)
		w.s.wakeIdle()
		return
	}
	w.counters.yields.Add(1)
	w.local.pushFront(t)
}

// dispatch acts on the step a task suspended or completed with.
func (w *worker) dispatch(t *Task, step Step) {
	s := w.s
	switch step.kind {
	case stepDone:
		s.finish(t, w, StateCompletedOk, step.value, nil)

	case stepFail:
		s.finish(t, w, StateCompletedErr, nil, &TaskError{TaskID: t.id, Err: step.err})

	case stepYield, stepAgain:
		if t.cancelled.Load() {
			s.finishCancelled(t, w)
			return
		}
		t.word.transition(StateRunning, StateRunnable)
		w.requeue(t)

	case stepSleep:
		if t.cancelled.Load() {
			s.finishCancelled(t, w)
			return
		}
		gen, _ := t.word.park()
		e := &timerEntry{deadline: step.deadline, task: t, gen: gen}
		t.timer.Store(e)
		if !s.timers.insert(e, time.Now()) {
			// already due, treated as a yield
			t.timer.Store(nil)
			if t.word.wake(gen) {
				w.requeue(t)
			}
			return
		}
		if t.cancelled.Load() {
			e.dead.Store(true)
			s.wakeTask(t, gen, w)
		}

	case stepAwait:
		if t.cancelled.Load() {
			s.finishCancelled(t, w)
			return
		}
		gen, _ := t.word.park()
		if !step.target.subscribe(func(by *worker) { s.wakeTask(t, gen, by) }) {
			s.wakeTask(t, gen, w)
			return
		}
		if t.cancelled.Load() {
			s.wakeTask(t, gen, w)
		}

	default:
		s.finish(t, w, StateCompletedErr, nil, &TaskError{TaskID: t.id, Err: ErrInvalidStep})
	}
}

// idleSet is the stack of parked workers.
type idleSet struct {
	workers []*worker
	mu      sync.Mutex
	count   atomic.Int32
}

func (x *idleSet) push(w *worker) {
	x.mu.Lock()
	if !w.parked {
		w.parked = true
		x.workers = append(x.workers, w)
		x.count.Add(1)
	}
	x.mu.Unlock()
}

func (x *idleSet) remove(w *worker) {
	x.mu.Lock()
	if w.parked {
		w.parked = false
		for i, v := range x.workers {
			if v == w {
				x.workers = append(x.workers[:i], x.workers[i+1:]...)
				break
			}
		}
		x.count.Add(-1)
	}
	x.mu.Unlock()
}

// wakeOne signals the most recently parked worker, if any.
func (x *idleSet) wakeOne() bool {
	x.mu.Lock()
	n := len(x.workers)
	if n == 0 {
		x.mu.Unlock()
		return false
	}
	w := x.workers[n-1]
	x.workers[n-1] = nil
	x.workers = x.workers[:n-1]
	w.parked = false
	x.count.Add(-1)
	x.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}
