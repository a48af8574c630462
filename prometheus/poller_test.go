// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-taskrt"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerStub struct {
	stats   taskrt.Stats
	metrics *taskrt.Metrics
}

func (s schedulerStub) Stats() taskrt.Stats { return s.stats }

func (s schedulerStub) Metrics() (taskrt.Metrics, bool) {
	if s.metrics == nil {
		return taskrt.Metrics{}, false
	}
	return *s.metrics, true
}

func TestSnapshotPoller_collectsStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("", reg, 10*time.Millisecond)
	require.NoError(t, err)

	poller.AddScheduler("sched-a", schedulerStub{stats: taskrt.Stats{
		Workers: []taskrt.WorkerStats{
			{ID: 0, QueueDepth: 3, Executed: 10, Steals: 1},
			{ID: 1, QueueDepth: 1, Executed: 5, Preemptions: 2},
		},
		LiveTasks:       4,
		Spawned:         20,
		Completed:       14,
		Failed:          1,
		Cancelled:       1,
		InjectorDepth:   6,
		PendingTimers:   2,
		PreemptRequests: 7,
		IdleWorkers:     1,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(poller.liveTasks.WithLabelValues("sched-a")) == 4
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, 20.0, testutil.ToFloat64(poller.tasks.WithLabelValues("sched-a", "spawned")))
	assert.Equal(t, 14.0, testutil.ToFloat64(poller.tasks.WithLabelValues("sched-a", "completed")))
	assert.Equal(t, 6.0, testutil.ToFloat64(poller.injectorDepth.WithLabelValues("sched-a")))
	assert.Equal(t, 7.0, testutil.ToFloat64(poller.preemptRequests.WithLabelValues("sched-a")))
	assert.Equal(t, 3.0, testutil.ToFloat64(poller.workerQueueDepth.WithLabelValues("sched-a", "0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(poller.workerPreemptions.WithLabelValues("sched-a", "1")))

	// metrics disabled, so no latency series
	assert.Zero(t, testutil.CollectAndCount(poller.resumeSeconds))
}

func TestSnapshotPoller_collectsMetrics(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("custom", reg, time.Hour)
	require.NoError(t, err)

	poller.AddScheduler("", schedulerStub{metrics: &taskrt.Metrics{
		Resume: taskrt.LatencyMetrics{
			P50: time.Millisecond,
			P99: 10 * time.Millisecond,
			Max: time.Second,
		},
		CompletionRate: 123,
	}})
	poller.Collect()

	assert.Equal(t, 0.001, testutil.ToFloat64(poller.resumeSeconds.WithLabelValues("scheduler", "0.5")))
	assert.Equal(t, 0.01, testutil.ToFloat64(poller.resumeSeconds.WithLabelValues("scheduler", "0.99")))
	assert.Equal(t, 1.0, testutil.ToFloat64(poller.resumeSeconds.WithLabelValues("scheduler", "1")))
	assert.Equal(t, 123.0, testutil.ToFloat64(poller.completionRate.WithLabelValues("scheduler")))

	n, err := testutil.GatherAndCount(reg, "custom_completion_rate")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	poller.RemoveScheduler("")
	assert.Zero(t, testutil.CollectAndCount(poller.completionRate))
	assert.Zero(t, testutil.CollectAndCount(poller.resumeSeconds))
}

func TestSnapshotPoller_alreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewSnapshotPoller("taskrt", reg, time.Hour)
	require.NoError(t, err)
	second, err := NewSnapshotPoller("taskrt", reg, time.Hour)
	require.NoError(t, err)
	assert.Same(t, first.liveTasks, second.liveTasks)
}

func TestSnapshotPoller_startStopIdempotent(t *testing.T) {
	poller, err := NewSnapshotPoller("", prom.NewRegistry(), 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()

	var nilPoller *SnapshotPoller
	nilPoller.Start(ctx)
	nilPoller.AddScheduler("x", schedulerStub{})
	nilPoller.Collect()
	nilPoller.Stop()
}

func TestSnapshotPoller_scheduler(t *testing.T) {
	s, err := taskrt.New(taskrt.WithWorkers(2), taskrt.WithMetrics(true))
	require.NoError(t, err)

	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("", reg, time.Hour)
	require.NoError(t, err)
	poller.AddScheduler("main", s)

	_, err = s.Run(context.Background(), taskrt.Func(func(c *taskrt.Context) (any, error) {
		for range 10 {
			if _, err := c.Spawn(taskrt.Func(func(*taskrt.Context) (any, error) { return nil, nil })); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}))
	require.NoError(t, err)
	poller.Collect()

	assert.Equal(t, 11.0, testutil.ToFloat64(poller.tasks.WithLabelValues("main", "spawned")))
	assert.Equal(t, 11.0, testutil.ToFloat64(poller.tasks.WithLabelValues("main", "completed")))
	assert.Zero(t, testutil.ToFloat64(poller.liveTasks.WithLabelValues("main")))
	assert.Equal(t, 2, testutil.CollectAndCount(poller.workerExecuted))
	assert.Equal(t, len(quantileLabels), testutil.CollectAndCount(poller.resumeSeconds))
}
