// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package prometheus exports the diagnostics of taskrt schedulers as
// Prometheus gauges, by periodically polling their snapshots.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/joeycumines/go-taskrt"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is used when no namespace is given.
const DefaultNamespace = "taskrt"

// SchedulerSnapshotProvider provides point-in-time scheduler diagnostics.
// It is implemented by *taskrt.Scheduler.
type SchedulerSnapshotProvider interface {
	Stats() taskrt.Stats
	Metrics() (taskrt.Metrics, bool)
}

var _ SchedulerSnapshotProvider = (*taskrt.Scheduler)(nil)

// quantileLabels are the latency summary labels, in the order they are
// read from taskrt.LatencyMetrics.
var quantileLabels = [...]string{"0.5", "0.9", "0.95", "0.99", "1"}

// SnapshotPoller periodically exports scheduler Stats (and, if enabled,
// Metrics) snapshots into Prometheus gauges, labelled by scheduler name.
type SnapshotPoller struct {
	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	liveTasks       *prom.GaugeVec
	tasks           *prom.GaugeVec
	injectorDepth   *prom.GaugeVec
	pendingTimers   *prom.GaugeVec
	preemptRequests *prom.GaugeVec
	idleWorkers     *prom.GaugeVec

	workerQueueDepth  *prom.GaugeVec
	workerExecuted    *prom.GaugeVec
	workerSteals      *prom.GaugeVec
	workerPreemptions *prom.GaugeVec

	resumeSeconds  *prom.GaugeVec
	wakeLateness   *prom.GaugeVec
	completionRate *prom.GaugeVec

	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	stateMu  sync.Mutex
	running  bool
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
// Registering twice against the same registry reuses the existing
// collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, append([]string{"scheduler"}, labels...))
	}

	p := &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),

		liveTasks:       gauge("live_tasks", "Number of spawned tasks not yet in a terminal state."),
		tasks:           gauge("tasks_total", "Task count snapshot, by lifecycle event.", "event"),
		injectorDepth:   gauge("injector_depth", "Length of the global run queue."),
		pendingTimers:   gauge("pending_timers", "Number of timer wheel entries."),
		preemptRequests: gauge("preempt_requests_total", "Number of yield requests made by the preemption monitor."),
		idleWorkers:     gauge("idle_workers", "Number of parked workers."),

		workerQueueDepth:  gauge("worker_queue_depth", "Length of the worker's local queue.", "worker"),
		workerExecuted:    gauge("worker_executed_total", "Scheduling slices run by the worker.", "worker"),
		workerSteals:      gauge("worker_steals_total", "Successful steal operations by the worker.", "worker"),
		workerPreemptions: gauge("worker_preemptions_total", "Forced yields observed by the worker.", "worker"),

		resumeSeconds:  gauge("resume_seconds", "Estimated quantiles of the time spent in a single resume.", "quantile"),
		wakeLateness:   gauge("wake_lateness_seconds", "Estimated quantiles of how late sleeping tasks were woken.", "quantile"),
		completionRate: gauge("completion_rate", "Tasks reaching a terminal state per second."),
	}

	for _, v := range []**prom.GaugeVec{
		&p.liveTasks,
		&p.tasks,
		&p.injectorDepth,
		&p.pendingTimers,
		&p.preemptRequests,
		&p.idleWorkers,
		&p.workerQueueDepth,
		&p.workerExecuted,
		&p.workerSteals,
		&p.workerPreemptions,
		&p.resumeSeconds,
		&p.wakeLateness,
		&p.completionRate,
	} {
		var err error
		if *v, err = registerCollector(reg, *v); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// AddScheduler adds or replaces a scheduler by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// RemoveScheduler stops exporting the named scheduler, and deletes its
// series.
func (p *SnapshotPoller) RemoveScheduler(name string) {
	if p == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	delete(p.schedulers, name)
	p.schedulersMu.Unlock()

	labels := prom.Labels{"scheduler": name}
	for _, v := range p.vecs() {
		v.DeletePartialMatch(labels)
	}
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling, after one final collection. Repeated calls
// are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	cancel()
	<-done

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

// Collect takes one snapshot of every scheduler, outside of the polling
// loop.
func (p *SnapshotPoller) Collect() {
	if p == nil {
		return
	}
	p.collectOnce()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			p.collectOnce()
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()
	for name, provider := range p.schedulers {
		p.collectStats(name, provider.Stats())
		if metrics, ok := provider.Metrics(); ok {
			p.collectMetrics(name, metrics)
		}
	}
}

func (p *SnapshotPoller) collectStats(name string, stats taskrt.Stats) {
	p.liveTasks.WithLabelValues(name).Set(float64(stats.LiveTasks))
	p.tasks.WithLabelValues(name, "spawned").Set(float64(stats.Spawned))
	p.tasks.WithLabelValues(name, "completed").Set(float64(stats.Completed))
	p.tasks.WithLabelValues(name, "failed").Set(float64(stats.Failed))
	p.tasks.WithLabelValues(name, "cancelled").Set(float64(stats.Cancelled))
	p.injectorDepth.WithLabelValues(name).Set(float64(stats.InjectorDepth))
	p.pendingTimers.WithLabelValues(name).Set(float64(stats.PendingTimers))
	p.preemptRequests.WithLabelValues(name).Set(float64(stats.PreemptRequests))
	p.idleWorkers.WithLabelValues(name).Set(float64(stats.IdleWorkers))

	for _, w := range stats.Workers {
		id := strconv.Itoa(w.ID)
		p.workerQueueDepth.WithLabelValues(name, id).Set(float64(w.QueueDepth))
		p.workerExecuted.WithLabelValues(name, id).Set(float64(w.Executed))
		p.workerSteals.WithLabelValues(name, id).Set(float64(w.Steals))
		p.workerPreemptions.WithLabelValues(name, id).Set(float64(w.Preemptions))
	}
}

func (p *SnapshotPoller) collectMetrics(name string, metrics taskrt.Metrics) {
	setLatency(p.resumeSeconds, name, metrics.Resume)
	setLatency(p.wakeLateness, name, metrics.WakeLateness)
	p.completionRate.WithLabelValues(name).Set(metrics.CompletionRate)
}

func setLatency(vec *prom.GaugeVec, name string, m taskrt.LatencyMetrics) {
	for i, d := range [...]time.Duration{m.P50, m.P90, m.P95, m.P99, m.Max} {
		vec.WithLabelValues(name, quantileLabels[i]).Set(d.Seconds())
	}
}

func (p *SnapshotPoller) vecs() []*prom.GaugeVec {
	return []*prom.GaugeVec{
		p.liveTasks,
		p.tasks,
		p.injectorDepth,
		p.pendingTimers,
		p.preemptRequests,
		p.idleWorkers,
		p.workerQueueDepth,
		p.workerExecuted,
		p.workerSteals,
		p.workerPreemptions,
		p.resumeSeconds,
		p.wakeLateness,
		p.completionRate,
	}
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
