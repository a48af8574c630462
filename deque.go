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

const (
	// dequeInitCap is the initial ring size, a power of 2.
	dequeInitCap = 64

	// maxStealBatch bounds the tasks moved by a single steal.
	maxStealBatch = 128
)

// deque is a worker's local run queue, a growable ring guarded by a mutex.
// The owner pushes and pops at the back (LIFO), thieves take from the
// front (FIFO), and voluntary yields re-enter at the front so that other
// local work runs first.
type deque struct {
	buf  []*Task
	head int
	n    int
	mu   sync.Mutex
	size atomic.Int64
}

// len may be read without the lock, and is used as a hint.
func (d *deque) len() int {
	return int(d.size.Load())
}

func (d *deque) grow() {
	size := len(d.buf) * 2
	if size == 0 {
		size = dequeInitCap
	}
	buf := make([]*Task, size)
	mask := len(d.buf) - 1
	for i := 0; i < d.n; i++ {
		buf[i] = d.buf[(d.head+i)&mask]
	}
	d.buf = buf
	d.head = 0
}

func (d *deque) pushBack(t *Task) {
	d.mu.Lock()
	d.pushBackLocked(t)
	d.size.Store(int64(d.n))
	d.mu.Unlock()
}

func (d *deque) pushBackLocked(t *Task) {
	if d.n == len(d.buf) {
		d.grow()
	}
	d.buf[(d.head+d.n)&(len(d.buf)-1)] = t
	d.n++
}

func (d *deque) pushFront(t *Task) {
	d.mu.Lock()
	if d.n == len(d.buf) {
		d.grow()
	}
	d.head = (d.head - 1) & (len(d.buf) - 1)
	d.buf[d.head] = t
	d.n++
	d.size.Store(int64(d.n))
	d.mu.Unlock()
}

func (d *deque) popBack() *Task {
	if d.size.Load() == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.n == 0 {
		return nil
	}
	i := (d.head + d.n - 1) & (len(d.buf) - 1)
	t := d.buf[i]
	d.buf[i] = nil
	d.n--
	d.size.Store(int64(d.n))
	return t
}

func (d *deque) popFront() *Task {
	if d.size.Load() == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.n == 0 {
		return nil
	}
	t := d.buf[d.head]
	d.buf[d.head] = nil
	d.head = (d.head + 1) & (len(d.buf) - 1)
	d.n--
	d.size.Store(int64(d.n))
	return t
}

// stealHalf takes the older half (rounded up, at most maxStealBatch) of d,
// returning the first task for the thief to run, and appending the rest to
// dst. Only one lock is held at a time.
func (d *deque) stealHalf(dst *deque) (*Task, int) {
	if d.size.Load() == 0 {
		return nil, 0
	}
	var batch [maxStealBatch]*Task

	d.mu.Lock()
	k := d.n - d.n/2
	if k > maxStealBatch {
		k = maxStealBatch
	}
	mask := len(d.buf) - 1
	for i := 0; i < k; i++ {
		batch[i] = d.buf[d.head]
		d.buf[d.head] = nil
		d.head = (d.head + 1) & mask
	}
	d.n -= k
	d.size.Store(int64(d.n))
	d.mu.Unlock()

	if k == 0 {
		return nil, 0
	}
	if k > 1 {
		dst.mu.Lock()
		for _, t := range batch[1:k] {
			dst.pushBackLocked(t)
		}
		dst.size.Store(int64(dst.n))
		dst.mu.Unlock()
	}
	return batch[0], k
}
