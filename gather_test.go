// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGather_order(t *testing.T) {
	for _, n := range []int{1, 2, 7, 100} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			conts := make([]Continuation, n)
			for i := range conts {
				// later children finish first
				d := time.Duration(n-i)*100*time.Microsecond + time.Duration(rand.IntN(500))*time.Microsecond
				conts[i] = sleepThen(d, i)
			}
			v, err := Run(testContext(t), gatherAll(conts...), WithWorkers(4))
			require.NoError(t, err)
			results := v.([]any)
			require.Len(t, results, n)
			for i, r := range results {
				assert.Equal(t, i, r)
			}
		})
	}
}

func TestGather_empty(t *testing.T) {
	var resumes int
	v, err := Run(testContext(t), ContinuationFunc(func(c *Context) Step {
		resumes++
		g := c.Gather()
		if !g.Settled() {
			return c.Fail(errors.New("expected an empty gather to be settled"))
		}
		return c.Return(g.Result())
	}))
	require.NoError(t, err)
	assert.Equal(t, []any{}, v)
	assert.Equal(t, 1, resumes)

	g := NewGather()
	assert.Zero(t, g.Len())
	results, err := g.Wait(testContext(t))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGather_awaitSettledDoesNotSuspend(t *testing.T) {
	var stages []int
	v, err := Run(testContext(t), Steps(
		func(c *Context) Step {
			stages = append(stages, 0)
			return c.Await(c.Gather())
		},
		func(c *Context) Step {
			stages = append(stages, 1)
			return c.Done("ok")
		},
	))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []int{0, 1}, stages)
}

func TestGather_failureReportsIndex(t *testing.T) {
	var handles []*Task
	var g *Gather
	_, err := Run(testContext(t), Steps(
		func(c *Context) Step {
			var err error
			handles, err = spawnAll(c,
				sleepThen(5*time.Millisecond, 0),
				failWith(io.EOF),
				sleepThen(10*time.Millisecond, 2),
			)
			if err != nil {
				return c.Fail(err)
			}
			g = c.Gather(handles...)
			return c.Await(g)
		},
		func(c *Context) Step {
			return c.Return(g.Result())
		},
	), WithUnobservedErrorPolicy(UnobservedFail))
	require.Error(t, err)

	var gatherErr *GatherError
	require.ErrorAs(t, err, &gatherErr)
	assert.Equal(t, 1, gatherErr.Index)
	assert.ErrorIs(t, err, io.EOF)

	var taskErr *TaskError
	require.ErrorAs(t, gatherErr.Err, &taskErr)
	assert.Equal(t, handles[1].ID(), taskErr.TaskID)

	// run-all lets the siblings finish
	assert.Equal(t, StateCompletedOk, handles[0].State())
	assert.Equal(t, StateCompletedErr, handles[1].State())
	assert.Equal(t, StateCompletedOk, handles[2].State())

	// the child failure was observed via the join, leaving only root's
	var unobserved *UnobservedError
	assert.False(t, errors.As(err, &unobserved))
}

func TestGather_failureBeatsCancellation(t *testing.T) {
	var g *Gather
	_, err := Run(testContext(t), Steps(
		func(c *Context) Step {
			handles, err := spawnAll(c,
				sleepThen(time.Hour, 0),
				sleepThen(time.Hour, 1),
				Steps(
					func(c *Context) Step { return c.Sleep(time.Millisecond) },
					func(c *Context) Step { return c.Fail(io.ErrClosedPipe) },
				),
			)
			if err != nil {
				return c.Fail(err)
			}
			handles[0].Cancel()
			handles[1].Cancel()
			g = c.Gather(handles...)
			return c.Await(g)
		},
		func(c *Context) Step {
			return c.Return(g.Result())
		},
	))
	var gatherErr *GatherError
	require.ErrorAs(t, err, &gatherErr)
	assert.Equal(t, 2, gatherErr.Index)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.NotErrorIs(t, gatherErr.Err, ErrCancelled)
}

func TestGather_lowestCancellation(t *testing.T) {
	var g *Gather
	_, err := Run(testContext(t), Steps(
		func(c *Context) Step {
			handles, err := spawnAll(c, value(0), sleepThen(time.Hour, 1), sleepThen(time.Hour, 2))
			if err != nil {
				return c.Fail(err)
			}
			handles[2].Cancel()
			handles[1].Cancel()
			g = c.Gather(handles...)
			return c.Await(g)
		},
		func(c *Context) Step {
			return c.Return(g.Result())
		},
	))
	var gatherErr *GatherError
	require.ErrorAs(t, err, &gatherErr)
	assert.Equal(t, 1, gatherErr.Index)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestGather_cancelSiblings(t *testing.T) {
	start := time.Now()
	_, err := Run(testContext(t), gatherAll(
		sleepThen(time.Hour, 0),
		Steps(
			func(c *Context) Step { return c.Sleep(time.Millisecond) },
			func(c *Context) Step { return c.Fail(io.EOF) },
		),
		compute(time.Hour, 2),
	), WithGatherPolicy(GatherCancelSiblings), WithWorkers(2))
	assert.Less(t, time.Since(start), 5*time.Second)

	var gatherErr *GatherError
	require.ErrorAs(t, err, &gatherErr)
	assert.Equal(t, 1, gatherErr.Index)
	assert.ErrorIs(t, err, io.EOF)
}

func TestGather_cancelSiblingsStates(t *testing.T) {
	var g *Gather
	_, err := Run(testContext(t), Steps(
		func(c *Context) Step {
			handles, err := spawnAll(c,
				sleepThen(time.Hour, 0),
				failWith(io.EOF),
			)
			if err != nil {
				return c.Fail(err)
			}
			g = c.Gather(handles...)
			return c.Await(g)
		},
		func(c *Context) Step {
			return c.Return(g.Result())
		},
	), WithGatherPolicy(GatherCancelSiblings))
	require.Error(t, err)
	tasks := g.Tasks()
	assert.Equal(t, StateCancelled, tasks[0].State())
	assert.Equal(t, StateCompletedErr, tasks[1].State())
	assert.Equal(t, 2, g.Len())
}

func TestNewGather_outsideTasks(t *testing.T) {
	ctx := testContext(t)
	s, err := New(WithWorkers(2))
	require.NoError(t, err)

	var handles []*Task
	for i := range 10 {
		h, err := s.Spawn(sleepThen(time.Duration(10-i)*time.Millisecond, i*i))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	g := NewGather(handles...)
	_, err = g.Result()
	assert.ErrorIs(t, err, ErrNotSettled)

	go func() { _, _ = s.Run(ctx, value(nil)) }()

	results, err := g.Wait(ctx)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, i*i, r)
	}
}

func TestGather_nilHandlePanics(t *testing.T) {
	assert.Panics(t, func() {
		NewGather(nil)
	})
}

func TestGather_duplicateHandles(t *testing.T) {
	var g *Gather
	v, err := Run(testContext(t), Steps(
		func(c *Context) Step {
			h, err := c.Spawn(sleepThen(time.Millisecond, "x"))
			if err != nil {
				return c.Fail(err)
			}
			g = c.Gather(h, h, h)
			return c.Await(g)
		},
		func(c *Context) Step {
			return c.Return(g.Result())
		},
	))
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "x", "x"}, v)
}
