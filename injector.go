// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"sync"
	"sync/atomic"
)

// injectorChunkSize is the number of tasks per node of the injector's
// linked list.
const injectorChunkSize = 128

// injector is the global run queue: a mutex-guarded FIFO built from a
// linked list of fixed-size chunks. It receives tasks spawned from outside
// the workers, forced yields, and wakeups from external goroutines.
type injector struct { // betteralign:ignore
	head   *injectorChunk
	tail   *injectorChunk
	mu     sync.Mutex
	length atomic.Int64
}

var injectorChunkPool = sync.Pool{
	New: func() any {
		return &injectorChunk{}
	},
}

type injectorChunk struct {
	tasks   [injectorChunkSize]*Task
	next    *injectorChunk
	readPos int
	pos     int
}

func newInjectorChunk() *injectorChunk {
	c := injectorChunkPool.Get().(*injectorChunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

func returnInjectorChunk(c *injectorChunk) {
	clear(c.tasks[:c.pos])
	c.pos = 0
	c.readPos = 0
	c.next = nil
	injectorChunkPool.Put(c)
}

// len may be read without the lock, and is used as a hint.
func (q *injector) len() int {
	return int(q.length.Load())
}

func (q *injector) push(t *Task) {
	q.mu.Lock()
	q.pushLocked(t)
	q.mu.Unlock()
}

func (q *injector) pushLocked(t *Task) {
	if q.tail == nil {
		q.tail = newInjectorChunk()
		q.head = q.tail
	}
	if q.tail.pos == len(q.tail.tasks) {
		c := newInjectorChunk()
		q.tail.next = c
		q.tail = c
	}
	q.tail.tasks[q.tail.pos] = t
	q.tail.pos++
	q.length.Add(1)
}

func (q *injector) pop() *Task {
	if q.length.Load() == 0 {
		return nil
	}
	q.mu.Lock()
	t := q.popLocked()
	q.mu.Unlock()
	return t
}

// popBatch moves up to len(dst) tasks into dst, returning the count.
func (q *injector) popBatch(dst []*Task) int {
	if q.length.Load() == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	for n < len(dst) {
		t := q.popLocked()
		if t == nil {
			break
		}
		dst[n] = t
		n++
	}
	return n
}

func (q *injector) popLocked() *Task {
	h := q.head
	if h == nil || h.readPos >= h.pos {
		return nil
	}
	t := h.tasks[h.readPos]
	h.tasks[h.readPos] = nil
	h.readPos++
	q.length.Add(-1)
	if h.readPos >= h.pos {
		if h == q.tail {
			h.pos = 0
			h.readPos = 0
		} else {
			q.head = h.next
			returnInjectorChunk(h)
		}
	}
	return t
}
