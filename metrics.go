// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"sync"
	"time"
)

// Metrics is a snapshot of the opt-in runtime metrics, see WithMetrics.
//
// Example:
//
//	s, _ := taskrt.New(taskrt.WithMetrics(true))
//	_, _ = s.Run(ctx, root)
//	m, _ := s.Metrics()
//	fmt.Printf("completions/s: %.2f, p99 resume: %v\n",
//		m.CompletionRate, m.Resume.P99)
type Metrics struct {
	// Resume is the distribution of time spent in a single Resume call.
	Resume LatencyMetrics

	// WakeLateness is the distribution of how late sleeping tasks were made
	// runnable, relative to their deadline.
	WakeLateness LatencyMetrics

	// Injector tracks the depth of the global run queue, as sampled by the
	// preemption monitor.
	Injector QueueMetrics

	// CompletionRate is the number of tasks reaching a terminal state per
	// second, averaged over a rolling window.
	CompletionRate float64
}

// LatencyMetrics summarises a latency distribution. Percentiles are
// streaming estimates.
type LatencyMetrics struct {
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// QueueMetrics tracks the depth of a queue.
type QueueMetrics struct {
	Current int
	Max     int
	// Avg is an exponential moving average (alpha=0.1), initialised to the
	// first sample.
	Avg float64
}

func (q *QueueMetrics) update(depth int, first bool) {
	q.Current = depth
	if depth > q.Max {
		q.Max = depth
	}
	if first {
		q.Avg = float64(depth)
	} else {
		q.Avg = 0.9*q.Avg + 0.1*float64(depth)
	}
}

var trackedQuantiles = [...]float64{0.50, 0.90, 0.95, 0.99}

// latencyRecorder feeds a quantileSet, it is safe for concurrent use.
type latencyRecorder struct {
	set *quantileSet
	mu  sync.Mutex
}

func newLatencyRecorder() *latencyRecorder {
	return &latencyRecorder{set: newQuantileSet(trackedQuantiles[:]...)}
}

func (l *latencyRecorder) record(d time.Duration) {
	l.mu.Lock()
	l.set.add(float64(d))
	l.mu.Unlock()
}

func (l *latencyRecorder) snapshot() LatencyMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LatencyMetrics{
		P50:   time.Duration(l.set.quantile(0)),
		P90:   time.Duration(l.set.quantile(1)),
		P95:   time.Duration(l.set.quantile(2)),
		P99:   time.Duration(l.set.quantile(3)),
		Max:   time.Duration(l.set.max),
		Mean:  time.Duration(l.set.mean()),
		Count: l.set.count,
	}
}

// rateCounter tracks events per second over a rolling window of buckets.
type rateCounter struct {
	last       time.Time
	buckets    []int64
	bucketSize time.Duration
	window     time.Duration
	cursor     int
	mu         sync.Mutex
}

func newRateCounter(window, bucketSize time.Duration) *rateCounter {
	n := int(window / bucketSize)
	if n < 1 {
		n = 1
	}
	return &rateCounter{
		last:       time.Now(),
		buckets:    make([]int64, n),
		bucketSize: bucketSize,
		window:     window,
	}
}

// rotate must be called with mu held.
func (r *rateCounter) rotate(now time.Time) {
	advance := int(now.Sub(r.last) / r.bucketSize)
	if advance <= 0 {
		return
	}
	if advance >= len(r.buckets) {
		clear(r.buckets)
		r.last = now
		return
	}
	for i := 0; i < advance; i++ {
		r.cursor = (r.cursor + 1) % len(r.buckets)
		r.buckets[r.cursor] = 0
	}
	r.last = r.last.Add(time.Duration(advance) * r.bucketSize)
}

func (r *rateCounter) increment() {
	r.mu.Lock()
	r.rotate(time.Now())
	r.buckets[r.cursor]++
	r.mu.Unlock()
}

func (r *rateCounter) rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotate(time.Now())
	var sum int64
	for _, v := range r.buckets {
		sum += v
	}
	return float64(sum) / r.window.Seconds()
}

// metricsRecorder backs Scheduler.Metrics. A nil recorder ignores all
// records.
type metricsRecorder struct {
	resume      *latencyRecorder
	wake        *latencyRecorder
	completions *rateCounter
	injector    QueueMetrics
	injectorMu  sync.Mutex
	sampled     bool
}

func newMetricsRecorder() *metricsRecorder {
	return &metricsRecorder{
		resume:      newLatencyRecorder(),
		wake:        newLatencyRecorder(),
		completions: newRateCounter(10*time.Second, 100*time.Millisecond),
	}
}

func (m *metricsRecorder) recordResume(d time.Duration) {
	if m == nil {
		return
	}
	m.resume.record(d)
}

func (m *metricsRecorder) recordWake(lateness time.Duration) {
	if m == nil {
		return
	}
	if lateness < 0 {
		lateness = 0
	}
	m.wake.record(lateness)
}

func (m *metricsRecorder) recordCompletion() {
	if m == nil {
		return
	}
	m.completions.increment()
}

func (m *metricsRecorder) sampleInjector(depth int) {
	if m == nil {
		return
	}
	m.injectorMu.Lock()
	m.injector.update(depth, !m.sampled)
	m.sampled = true
	m.injectorMu.Unlock()
}

func (m *metricsRecorder) snapshot() Metrics {
	m.injectorMu.Lock()
	injector := m.injector
	m.injectorMu.Unlock()
	return Metrics{
		Resume:         m.resume.snapshot(),
		WakeLateness:   m.wake.snapshot(),
		Injector:       injector,
		CompletionRate: m.completions.rate(),
	}
}
