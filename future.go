// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"context"
)

// Future is a write-once awaitable, completed explicitly via Resolve or
// Reject, from any goroutine. It bridges tasks and external events, e.g. a
// task awaiting the result of a blocking call made on another goroutine.
type Future struct {
	completion
	value any
	err   error
}

// NewFuture creates a pending Future.
func NewFuture() *Future {
	return &Future{}
}

// Resolve completes the future with a value. It returns false, without
// effect, if the future had already completed.
func (f *Future) Resolve(value any) bool {
	return f.settle(nil, func() {
		f.value = value
	})
}

// Reject completes the future with an error. A nil error is equivalent to
// Resolve(nil). It returns false, without effect, if the future had already
// completed.
func (f *Future) Reject(err error) bool {
	return f.settle(nil, func() {
		f.err = err
	})
}

// Result returns the outcome, or ErrNotSettled.
func (f *Future) Result() (any, error) {
	if !f.settled.Load() {
		return nil, ErrNotSettled
	}
	return f.value, f.err
}

// Wait blocks until the future completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.Result()
}
