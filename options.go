// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultTimeSlice is the run slice after which the preemption monitor
	// requests that a task yield.
	DefaultTimeSlice = 2 * time.Millisecond

	// DefaultTickGranularity is the timer wheel tick, and the monitor's
	// polling period while there is work.
	DefaultTickGranularity = 250 * time.Microsecond

	// DefaultMaxIdlePark bounds how long an idle worker parks before
	// re-checking the queues, absent a wake signal or a timer deadline.
	DefaultMaxIdlePark = 2 * time.Millisecond
)

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	logger            *logiface.Logger[logiface.Event]
	workers           int
	timeSlice         time.Duration
	tick              time.Duration
	maxIdlePark       time.Duration
	maxTasks          int64
	gatherPolicy      GatherPolicy
	unobserved        UnobservedErrorPolicy
	orphans           OrphanPolicy
	metricsEnabled    bool
	cancelPropagation bool
}

// --- Scheduler Options ---

// Option configures a Scheduler instance.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *optionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithWorkers sets the number of worker goroutines. Zero (the default)
// sizes the pool by AvailableCores.
func WithWorkers(n int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if n < 0 {
			return errors.New("taskrt: worker count must not be negative")
		}
		opts.workers = n
		return nil
	}}
}

// WithTimeSlice sets the run slice after which a task is asked to yield
// at its next safepoint.
func WithTimeSlice(d time.Duration) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if d <= 0 {
			return errors.New("taskrt: time slice must be positive")
		}
		opts.timeSlice = d
		return nil
	}}
}

// WithTickGranularity sets the timer wheel tick. Sleeps never wake early,
// and wake at most about one tick (plus scheduling delay) late.
func WithTickGranularity(d time.Duration) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if d <= 0 {
			return errors.New("taskrt: tick granularity must be positive")
		}
		opts.tick = d
		return nil
	}}
}

// WithMaxIdlePark sets the upper bound of the idle worker backoff.
func WithMaxIdlePark(d time.Duration) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if d <= 0 {
			return errors.New("taskrt: max idle park must be positive")
		}
		opts.maxIdlePark = d
		return nil
	}}
}

// WithMaxTasks limits the number of live (non-terminal) tasks. Spawns past
// the limit fail with a *FatalError wrapping ErrTaskLimit. Zero means no
// limit.
func WithMaxTasks(n int64) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if n < 0 {
			return errors.New("taskrt: max tasks must not be negative")
		}
		opts.maxTasks = n
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables latency and throughput metrics, accessed via
// Scheduler.Metrics. Diagnostic counters (Scheduler.Stats) are always on.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithGatherPolicy sets what a join does when one of its children fails.
// Defaults to GatherRunAll.
func WithGatherPolicy(policy GatherPolicy) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		switch policy {
		case GatherRunAll, GatherCancelSiblings:
		default:
			return errors.New("taskrt: invalid gather policy")
		}
		opts.gatherPolicy = policy
		return nil
	}}
}

// WithUnobservedErrorPolicy sets how failures that are never read are
// handled. Defaults to UnobservedReport.
func WithUnobservedErrorPolicy(policy UnobservedErrorPolicy) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		switch policy {
		case UnobservedReport, UnobservedRetain, UnobservedFail:
		default:
			return errors.New("taskrt: invalid unobserved error policy")
		}
		opts.unobserved = policy
		return nil
	}}
}

// WithOrphanPolicy sets what Run does with tasks still live once the root
// task has completed. Defaults to OrphansWait.
func WithOrphanPolicy(policy OrphanPolicy) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		switch policy {
		case OrphansWait, OrphansCancel:
		default:
			return errors.New("taskrt: invalid orphan policy")
		}
		opts.orphans = policy
		return nil
	}}
}

// WithCancelPropagation sets whether cancelling a task also cancels the
// tasks it spawned. Enabled by default.
func WithCancelPropagation(enabled bool) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.cancelPropagation = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to schedulerOptions.
func resolveOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		timeSlice:         DefaultTimeSlice,
		tick:              DefaultTickGranularity,
		maxIdlePark:       DefaultMaxIdlePark,
		gatherPolicy:      GatherRunAll,
		unobserved:        UnobservedReport,
		orphans:           OrphansWait,
		cancelPropagation: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.workers == 0 {
		cfg.workers = AvailableCores()
	}
	return cfg, nil
}
