// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"container/heap"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// wheelSlots is the number of slots in the timer wheel, a power of 2.
	wheelSlots = 256
	wheelMask  = wheelSlots - 1
)

// timerEntry is a sleeping task's registration. Cancellation marks it dead
// rather than removing it.
type timerEntry struct {
	deadline time.Time
	task     *Task
	gen      uint64
	tick     int64
	index    int
	dead     atomic.Bool
}

// timerHeap is a min-heap of entries beyond the wheel's horizon, ordered
// by tick.
type timerHeap []*timerEntry

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].tick < h[j].tick }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[:n-1]
	return x
}

// timerWheel is a hashed timing wheel. Time is divided into ticks since
// origin, an entry is due at the first tick boundary at or after its
// deadline, so it never fires early and fires at most one tick late
// (relative to when it is polled). Entries more than a revolution ahead of
// the cursor wait in an overflow heap.
//
// Polling is done by whichever worker (or the monitor) acquires the lock,
// see tryAdvance.
type timerWheel struct {
	origin   time.Time
	overflow timerHeap
	slots    [wheelSlots][]*timerEntry
	occupied [wheelSlots / 64]uint64
	tick     time.Duration
	cursor   int64
	mu       sync.Mutex
	pending  atomic.Int64
	// nextDue is the offset from origin of the earliest occupied tick, or
	// math.MaxInt64 if there are no entries.
	nextDue atomic.Int64
}

func newTimerWheel(origin time.Time, tick time.Duration) *timerWheel {
	w := &timerWheel{
		origin: origin,
		tick:   tick,
	}
	w.nextDue.Store(math.MaxInt64)
	return w
}

// tickOf rounds up to the tick boundary at or after t.
func (w *timerWheel) tickOf(t time.Time) int64 {
	d := t.Sub(w.origin)
	if d <= 0 {
		return 0
	}
	tick := int64(d / w.tick)
	if d%w.tick != 0 {
		tick++
	}
	return tick
}

// len returns the number of registered entries, including dead ones that
// have not been reached yet.
func (w *timerWheel) len() int {
	return int(w.pending.Load())
}

// nextDeadline returns the earliest tick boundary with an entry.
func (w *timerWheel) nextDeadline() (time.Time, bool) {
	v := w.nextDue.Load()
	if v == math.MaxInt64 {
		return time.Time{}, false
	}
	return w.origin.Add(time.Duration(v)), true
}

// due reports whether an entry may be ready at now.
func (w *timerWheel) due(now time.Time) bool {
	v := w.nextDue.Load()
	return v != math.MaxInt64 && now.Sub(w.origin) >= time.Duration(v)
}

// insert registers e, returning false (without registering it) if the
// deadline is not after now, in which case the caller wakes the task.
func (w *timerWheel) insert(e *timerEntry, now time.Time) bool {
	if !e.deadline.After(now) {
		return false
	}
	w.mu.Lock()
	e.tick = w.tickOf(e.deadline)
	if e.tick < w.cursor {
		e.tick = w.cursor
	}
	w.place(e)
	w.pending.Add(1)
	w.updateNextDue()
	w.mu.Unlock()
	return true
}

func (w *timerWheel) place(e *timerEntry) {
	if e.tick >= w.cursor+wheelSlots {
		heap.Push(&w.overflow, e)
		return
	}
	i := e.tick & wheelMask
	w.slots[i] = append(w.slots[i], e)
	w.occupied[i>>6] |= 1 << (i & 63)
}

// take appends the live entries of slot i to due, and empties it.
func (w *timerWheel) take(i int64, due []*timerEntry) []*timerEntry {
	entries := w.slots[i]
	for _, e := range entries {
		if !e.dead.Load() {
			due = append(due, e)
		}
	}
	w.pending.Add(-int64(len(entries)))
	clear(entries)
	w.slots[i] = entries[:0]
	w.occupied[i>>6] &^= 1 << (i & 63)
	return due
}

// tryAdvance advances the wheel unless another goroutine is already doing
// so, see advance.
func (w *timerWheel) tryAdvance(now time.Time, due []*timerEntry) ([]*timerEntry, bool) {
	if !w.mu.TryLock() {
		return due, false
	}
	due = w.advanceLocked(now, due)
	w.mu.Unlock()
	return due, true
}

// advance processes every tick up to and including now, appending the live
// entries that are due. If more than a full revolution has elapsed since
// the last call, every slot is due.
func (w *timerWheel) advance(now time.Time, due []*timerEntry) []*timerEntry {
	w.mu.Lock()
	due = w.advanceLocked(now, due)
	w.mu.Unlock()
	return due
}

func (w *timerWheel) advanceLocked(now time.Time, due []*timerEntry) []*timerEntry {
	elapsed := now.Sub(w.origin)
	if elapsed < 0 {
		return due
	}
	target := int64(elapsed / w.tick)
	if target < w.cursor {
		return due
	}

	if target-w.cursor >= wheelSlots {
		for word := range w.occupied {
			for w.occupied[word] != 0 {
				i := int64(word<<6 + bits.TrailingZeros64(w.occupied[word]))
				due = w.take(i, due)
			}
		}
	} else {
		for k := w.cursor; k <= target; k++ {
			i := k & wheelMask
			if w.occupied[i>>6]&(1<<(i&63)) != 0 {
				due = w.take(i, due)
			}
		}
	}
	w.cursor = target + 1

	for len(w.overflow) > 0 && w.overflow[0].tick < w.cursor+wheelSlots {
		e := heap.Pop(&w.overflow).(*timerEntry)
		if e.tick < w.cursor {
			w.pending.Add(-1)
			if !e.dead.Load() {
				due = append(due, e)
			}
			continue
		}
		w.place(e)
	}

	w.updateNextDue()
	return due
}

// updateNextDue scans for the first occupied slot from the cursor.
func (w *timerWheel) updateNextDue() {
	next := int64(math.MaxInt64)
	for off := int64(0); off < wheelSlots; off++ {
		i := (w.cursor + off) & wheelMask
		word := w.occupied[i>>6]
		if word == 0 {
			// skip to the next word boundary
			off += 63 - (i & 63)
			continue
		}
		if word&(1<<(i&63)) != 0 {
			next = w.cursor + off
			break
		}
	}
	if next == math.MaxInt64 && len(w.overflow) > 0 {
		next = w.overflow[0].tick
	}
	if next != math.MaxInt64 {
		if next > (math.MaxInt64-1)/int64(w.tick) {
			// saturate, beyond the range of time.Duration
			next = math.MaxInt64 - 1
		} else {
			next *= int64(w.tick)
		}
	}
	w.nextDue.Store(next)
}
