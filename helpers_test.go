// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// testContext bounds each test, so a scheduler bug fails instead of hangs.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// syncBuffer is a bytes.Buffer safe for concurrent writes by the logger.
type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.String()
}

func newTestLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func value(v any) Continuation {
	return Func(func(*Context) (any, error) {
		return v, nil
	})
}

func failWith(err error) Continuation {
	return Func(func(*Context) (any, error) {
		return nil, err
	})
}

func sleepThen(d time.Duration, v any) Continuation {
	return Steps(
		func(c *Context) Step { return c.Sleep(d) },
		func(c *Context) Step { return c.Done(v) },
	)
}

// compute busy-loops for d of run time, polling safepoints.
func compute(d time.Duration, result any) Continuation {
	var spent time.Duration
	return ContinuationFunc(func(c *Context) Step {
		start := time.Now()
		for {
			if spent+time.Since(start) >= d {
				return c.Done(result)
			}
			if c.Safepoint() {
				spent += time.Since(start)
				return c.Yield()
			}
		}
	})
}

func spawnAll(c *Context, conts ...Continuation) ([]*Task, error) {
	handles := make([]*Task, len(conts))
	for i, cont := range conts {
		h, err := c.Spawn(cont)
		if err != nil {
			return nil, err
		}
		handles[i] = h
	}
	return handles, nil
}

// gatherAll spawns every continuation, and completes with the join's
// outcome.
func gatherAll(conts ...Continuation) Continuation {
	var g *Gather
	return Steps(
		func(c *Context) Step {
			handles, err := spawnAll(c, conts...)
			if err != nil {
				return c.Fail(err)
			}
			g = c.Gather(handles...)
			return c.Await(g)
		},
		func(c *Context) Step {
			return c.Return(g.Result())
		},
	)
}

// awaitTask completes with the outcome of the task returned by fn.
func awaitTask(fn func(c *Context) (*Task, error)) Continuation {
	var h *Task
	return Steps(
		func(c *Context) Step {
			var err error
			if h, err = fn(c); err != nil {
				return c.Fail(err)
			}
			return c.Await(h)
		},
		func(c *Context) Step {
			return c.Return(h.Result())
		},
	)
}
