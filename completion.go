// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"context"
	"sync"
	"sync/atomic"
)

// Awaitable is anything a task may suspend on, via Context.Await.
// It is implemented by *Task, *Gather and *Future.
type Awaitable interface {
	// Settled reports whether the awaitable has completed.
	Settled() bool

	subscribe(fn func(w *worker)) bool
}

var (
	_ Awaitable = (*Task)(nil)
	_ Awaitable = (*Gather)(nil)
	_ Awaitable = (*Future)(nil)
)

// completion is the write-once settle cell shared by the awaitables.
// Subscribers run exactly once, on the goroutine that settles the cell,
// and receive the worker that goroutine belongs to (nil if external).
type completion struct {
	done    chan struct{}
	waiters []func(w *worker)
	mu      sync.Mutex
	settled atomic.Bool
}

// Settled reports whether the outcome is available.
func (c *completion) Settled() bool {
	return c.settled.Load()
}

// subscribe registers fn to run once settled. It returns false, without
// registering fn, if the cell has already settled.
func (c *completion) subscribe(fn func(w *worker)) bool {
	c.mu.Lock()
	if c.settled.Load() {
		c.mu.Unlock()
		return false
	}
	c.waiters = append(c.waiters, fn)
	c.mu.Unlock()
	return true
}

// settle runs set (which records the outcome) then notifies subscribers.
// Returns false, and does not call set, if already settled.
func (c *completion) settle(w *worker, set func()) bool {
	c.mu.Lock()
	if c.settled.Load() {
		c.mu.Unlock()
		return false
	}
	if set != nil {
		set()
	}
	c.settled.Store(true)
	waiters := c.waiters
	c.waiters = nil
	done := c.done
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	for _, fn := range waiters {
		fn(w)
	}
	return true
}

// Done returns a channel that is closed once settled, for use outside of
// tasks.
func (c *completion) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(chan struct{})
		if c.settled.Load() {
			close(c.done)
		}
	}
	return c.done
}

func (c *completion) wait(ctx context.Context) error {
	if c.settled.Load() {
		return nil
	}
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
