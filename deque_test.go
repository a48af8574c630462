// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTasks(n int) []*Task {
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = &Task{id: uint64(i + 1)}
	}
	return tasks
}

func TestDeque_lifoAndFifo(t *testing.T) {
	var d deque
	tasks := makeTasks(3)
	for _, v := range tasks {
		d.pushBack(v)
	}
	require.Equal(t, 3, d.len())

	assert.Same(t, tasks[2], d.popBack())
	assert.Same(t, tasks[0], d.popFront())
	assert.Same(t, tasks[1], d.popBack())
	assert.Nil(t, d.popBack())
	assert.Nil(t, d.popFront())
	assert.Equal(t, 0, d.len())
}

func TestDeque_pushFront(t *testing.T) {
	var d deque
	tasks := makeTasks(3)
	d.pushBack(tasks[0])
	d.pushBack(tasks[1])
	d.pushFront(tasks[2])

	// the front is only reached once the rest of the queue is drained
	assert.Same(t, tasks[1], d.popBack())
	assert.Same(t, tasks[0], d.popBack())
	assert.Same(t, tasks[2], d.popBack())
}

func TestDeque_grow(t *testing.T) {
	var d deque
	tasks := makeTasks(dequeInitCap*3 + 7)
	// wrap the ring before growing
	for _, v := range tasks[:10] {
		d.pushBack(v)
	}
	for range 10 {
		d.popFront()
	}
	for _, v := range tasks {
		d.pushBack(v)
	}
	require.Equal(t, len(tasks), d.len())
	for _, v := range tasks {
		require.Same(t, v, d.popFront())
	}
	require.Nil(t, d.popFront())
}

func TestDeque_stealHalf(t *testing.T) {
	for _, tc := range [...]struct {
		n     int
		moved int
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{5, 3},
		{10, 5},
		{maxStealBatch * 4, maxStealBatch},
	} {
		var victim, thief deque
		tasks := makeTasks(tc.n)
		for _, v := range tasks {
			victim.pushBack(v)
		}

		first, moved := victim.stealHalf(&thief)
		require.Equal(t, tc.moved, moved, "n=%d", tc.n)
		if tc.moved == 0 {
			require.Nil(t, first)
			continue
		}
		// the oldest task is taken to run, the rest keep their order
		require.Same(t, tasks[0], first)
		require.Equal(t, tc.moved-1, thief.len())
		for _, v := range tasks[1:tc.moved] {
			require.Same(t, v, thief.popFront())
		}
		require.Equal(t, tc.n-tc.moved, victim.len())
		if tc.n > tc.moved {
			require.Same(t, tasks[tc.moved], victim.popFront())
		}
	}
}

func TestDeque_concurrentSteal(t *testing.T) {
	const total = 10000
	var owner deque
	thieves := make([]deque, 4)
	tasks := makeTasks(total)

	var (
		mu   sync.Mutex
		seen = make(map[*Task]int)
		wg   sync.WaitGroup
	)
	record := func(v *Task) {
		mu.Lock()
		seen[v]++
		mu.Unlock()
	}

	done := make(chan struct{})
	for i := range thieves {
		wg.Add(1)
		go func(thief *deque) {
			defer wg.Done()
			for {
				if v, _ := owner.stealHalf(thief); v != nil {
					record(v)
				}
				for v := thief.popBack(); v != nil; v = thief.popBack() {
					record(v)
				}
				select {
				case <-done:
					if owner.len() == 0 {
						return
					}
				default:
				}
			}
		}(&thieves[i])
	}

	for i, v := range tasks {
		owner.pushBack(v)
		if i%3 == 0 {
			if v := owner.popBack(); v != nil {
				record(v)
			}
		}
	}
	close(done)
	wg.Wait()
	for v := owner.popBack(); v != nil; v = owner.popBack() {
		record(v)
	}

	require.Len(t, seen, total)
	for v, n := range seen {
		require.Equal(t, 1, n, "task %d seen %d times", v.id, n)
	}
}

func TestInjector_fifoAcrossChunks(t *testing.T) {
	var q injector
	tasks := makeTasks(injectorChunkSize*2 + 3)
	for _, v := range tasks {
		q.push(v)
	}
	require.Equal(t, len(tasks), q.len())

	batch := make([]*Task, 10)
	n := q.popBatch(batch)
	require.Equal(t, 10, n)
	for i := range n {
		require.Same(t, tasks[i], batch[i])
	}
	for _, v := range tasks[10:] {
		require.Same(t, v, q.pop())
	}
	require.Nil(t, q.pop())
	require.Equal(t, 0, q.popBatch(batch))
	require.Equal(t, 0, q.len())

	// reuse after draining
	q.push(tasks[0])
	require.Same(t, tasks[0], q.pop())
}
