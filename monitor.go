// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
)

const (
	// monitorMaxPeriod bounds the monitor's sleep while idle.
	monitorMaxPeriod = 10 * time.Millisecond

	// monitorIdleRounds is the number of idle rounds before the monitor
	// starts backing off.
	monitorIdleRounds = 20

	// scavengeInterval is how often, in monitor rounds, failed tasks are
	// checked for unobserved errors.
	scavengeInterval = 64

	// scavengeBatch is the number of failures checked per scavenge.
	scavengeBatch = 32
)

// monitor is the preemption watchdog. Each round, it flags any task that
// has been running for longer than the time slice, and polls the timer
// wheel on behalf of busy workers. It polls at the tick granularity while
// there is work, backing off (doubling) to monitorMaxPeriod when idle.
type monitor struct {
	s        *Scheduler
	limiter  *catrate.Limiter
	due      []*timerEntry
	requests atomic.Uint64
}

func newMonitor(s *Scheduler) *monitor {
	return &monitor{
		s: s,
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second:      5,
			time.Second * 10: 20,
		}),
	}
}

func (m *monitor) run() {
	s := m.s
	period := s.opts.tick
	timer := time.NewTimer(period)
	defer timer.Stop()

	var idleRounds, round int
	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
		}
		round++

		busy := m.retake(s.nanotime())
		if s.timers.len() > 0 {
			s.pollTimers(nil, &m.due)
		}
		if s.metrics != nil {
			s.metrics.sampleInjector(s.injector.len())
		}
		if round%scavengeInterval == 0 {
			s.reportUnobserved(s.registry.scavenge(scavengeBatch))
		}

		if busy || s.injector.len() > 0 {
			idleRounds = 0
			period = s.opts.tick
		} else {
			idleRounds++
			if idleRounds > monitorIdleRounds {
				period = min(period*2, monitorMaxPeriod)
			}
		}
		timer.Reset(period)
	}
}

// retake asks every task that has exceeded its slice to yield. It reports
// whether any worker was running a task.
func (m *monitor) retake(now int64) bool {
	s := m.s
	slice := int64(s.opts.timeSlice)
	var busy bool
	for _, w := range s.workers {
		t := w.current.Load()
		if t == nil {
			continue
		}
		busy = true
		ran := now - w.sliceStart.Load()
		if ran < slice || t.shouldYield.Load() {
			continue
		}
		t.shouldYield.Store(true)
		m.requests.Add(1)
		if _, ok := m.limiter.Allow(w.id); ok {
			s.logger.Debug().
				Uint64("scheduler", s.id).
				Int("worker", w.id).
				Uint64("task", t.id).
				Dur("ran", time.Duration(ran)).
				Log("requested task yield")
		}
	}
	return busy
}
