// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"context"
	"testing"
	"time"
)

// Run: go test -bench=. -benchmem -count=5 -run=^$ .

// BenchmarkSpawn measures spawn and completion of trivial tasks.
func BenchmarkSpawn(b *testing.B) {
	b.ReportAllocs()
	conts := make([]Continuation, b.N)
	for i := range conts {
		conts[i] = value(i)
	}
	b.ResetTimer()
	if _, err := Run(context.Background(), gatherAll(conts...)); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkYield measures context switches, across 10 yielding tasks.
func BenchmarkYield(b *testing.B) {
	const tasks = 10
	b.ReportAllocs()
	conts := make([]Continuation, tasks)
	for i := range conts {
		conts[i] = yielder(b.N/tasks + 1)
	}
	b.ResetTimer()
	if _, err := Run(context.Background(), gatherAll(conts...)); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkYield_SingleWorker is BenchmarkYield without stealing.
func BenchmarkYield_SingleWorker(b *testing.B) {
	const tasks = 10
	b.ReportAllocs()
	conts := make([]Continuation, tasks)
	for i := range conts {
		conts[i] = yielder(b.N/tasks + 1)
	}
	b.ResetTimer()
	if _, err := Run(context.Background(), gatherAll(conts...), WithWorkers(1)); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkAwaitCompleted measures await of an already completed task,
// which must not suspend.
func BenchmarkAwaitCompleted(b *testing.B) {
	f := NewFuture()
	f.Resolve(nil)
	var i int
	b.ReportAllocs()
	b.ResetTimer()
	_, err := Run(context.Background(), ContinuationFunc(func(c *Context) Step {
		if i == b.N {
			return c.Done(nil)
		}
		i++
		return c.Await(f)
	}))
	if err != nil {
		b.Fatal(err)
	}
}

// BenchmarkTimerWheel_insertAdvance measures the wheel in isolation.
func BenchmarkTimerWheel_insertAdvance(b *testing.B) {
	origin := time.Now()
	w := newTimerWheel(origin, DefaultTickGranularity)
	task := &Task{}
	due := make([]*timerEntry, 0, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := range b.N {
		now := origin.Add(time.Duration(i) * time.Microsecond)
		w.insert(&timerEntry{deadline: now.Add(time.Duration(i%5000) * time.Microsecond), task: task}, now)
		due = w.advance(now, due[:0])
	}
}

// BenchmarkDeque_pushPop measures the uncontended local queue.
func BenchmarkDeque_pushPop(b *testing.B) {
	var d deque
	t := &Task{}
	b.ReportAllocs()
	for range b.N {
		d.pushBack(t)
		d.popBack()
	}
}

// BenchmarkInjector_pushPop measures the global queue.
func BenchmarkInjector_pushPop(b *testing.B) {
	var q injector
	t := &Task{}
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			q.push(t)
			q.pop()
		}
	})
}
