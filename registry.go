// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"sync"
	"weak"
)

// UnobservedErrorPolicy determines what happens to a failed task's error
// if no one reads it (via Task.Result, Task.Wait, or a join) before the
// handle becomes unreachable, or the scheduler finishes.
type UnobservedErrorPolicy uint8

const (
	// UnobservedReport logs unobserved failures at warning level. This is
	// the default.
	UnobservedReport UnobservedErrorPolicy = iota
	// UnobservedRetain keeps the failure in the result slot, and does
	// nothing else.
	UnobservedRetain
	// UnobservedFail reports, and also joins an *UnobservedError per
	// failure into the error returned by Run.
	UnobservedFail
)

// String returns a human-readable representation of the policy.
func (p UnobservedErrorPolicy) String() string {
	switch p {
	case UnobservedReport:
		return "report"
	case UnobservedRetain:
		return "retain"
	case UnobservedFail:
		return "fail"
	default:
		return "unknown"
	}
}

// registryShards is the number of live task shards, a power of 2.
const registryShards = 64

// registry tracks live tasks (strongly, so they can be cancelled en masse)
// and failed tasks (weakly, so unobserved failures are detected once the
// handle is garbage collected). Failures are scavenged incrementally via a
// ring of ids.
type registry struct {
	failures map[uint64]failureRecord
	ring     []uint64
	head     int
	mu       sync.RWMutex

	// scavengeMu serializes scavenge operations, it guards compaction.
	scavengeMu sync.Mutex

	shards [registryShards]registryShard
}

type registryShard struct {
	live map[uint64]*Task
	mu   sync.Mutex
}

type failureRecord struct {
	err  error
	task weak.Pointer[Task]
	id   uint64
}

func newRegistry() *registry {
	r := &registry{
		failures: make(map[uint64]failureRecord),
		ring:     make([]uint64, 0, 64),
	}
	for i := range r.shards {
		r.shards[i].live = make(map[uint64]*Task)
	}
	return r
}

func (r *registry) shard(id uint64) *registryShard {
	return &r.shards[id&(registryShards-1)]
}

func (r *registry) addLive(t *Task) {
	s := r.shard(t.id)
	s.mu.Lock()
	s.live[t.id] = t
	s.mu.Unlock()
}

func (r *registry) removeLive(t *Task) {
	s := r.shard(t.id)
	s.mu.Lock()
	delete(s.live, t.id)
	s.mu.Unlock()
}

// liveTasks returns a snapshot of every live task.
func (r *registry) liveTasks() []*Task {
	var tasks []*Task
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, t := range s.live {
			tasks = append(tasks, t)
		}
		s.mu.Unlock()
	}
	return tasks
}

// trackFailure records a failed task, without retaining it.
func (r *registry) trackFailure(t *Task, err error) {
	rec := failureRecord{
		err:  err,
		task: weak.Make(t),
		id:   t.id,
	}
	r.mu.Lock()
	r.failures[t.id] = rec
	r.ring = append(r.ring, t.id)
	r.mu.Unlock()
}

// scavenge checks up to batchSize failures, forgetting those that were
// observed, and returning those whose task was collected unobserved.
func (r *registry) scavenge(batchSize int) []*UnobservedError {
	r.scavengeMu.Lock()
	defer r.scavengeMu.Unlock()

	if batchSize <= 0 {
		return nil
	}

	r.mu.RLock()
	ringLen := len(r.ring)
	if ringLen == 0 {
		r.mu.RUnlock()
		return nil
	}

	start := r.head
	end := min(start+batchSize, ringLen)

	type item struct {
		rec failureRecord
		idx int
	}
	items := make([]item, 0, end-start)
	for i := start; i < end; i++ {
		id := r.ring[i]
		if id == 0 {
			continue
		}
		if rec, ok := r.failures[id]; ok {
			items = append(items, item{rec, i})
		}
	}

	nextHead := end
	if nextHead >= ringLen {
		nextHead = 0
	}
	r.mu.RUnlock()

	cycleCompleted := nextHead == 0

	var (
		remove     []item
		unobserved []*UnobservedError
	)
	for _, it := range items {
		t := it.rec.task.Value()
		switch {
		case t == nil:
			unobserved = append(unobserved, &UnobservedError{TaskID: it.rec.id, Err: it.rec.err})
			remove = append(remove, it)
		case t.observed.Load():
			remove = append(remove, it)
		}
	}

	r.mu.Lock()
	for _, it := range remove {
		delete(r.failures, it.rec.id)
		if it.idx < len(r.ring) && r.ring[it.idx] == it.rec.id {
			r.ring[it.idx] = 0
		}
	}
	r.head = nextHead
	if cycleCompleted {
		if capacity := len(r.ring); capacity > 256 && len(r.failures) < capacity/4 {
			r.compact()
		}
	}
	r.mu.Unlock()

	return unobserved
}

// drain forgets every tracked failure, returning those not observed.
func (r *registry) drain() []*UnobservedError {
	r.scavengeMu.Lock()
	defer r.scavengeMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	var unobserved []*UnobservedError
	for _, id := range r.ring {
		if id == 0 {
			continue
		}
		rec, ok := r.failures[id]
		if !ok {
			continue
		}
		if t := rec.task.Value(); t == nil || !t.observed.Load() {
			unobserved = append(unobserved, &UnobservedError{TaskID: rec.id, Err: rec.err})
		}
	}
	r.failures = make(map[uint64]failureRecord)
	r.ring = r.ring[:0]
	r.head = 0
	return unobserved
}

// compact removes null markers from the ring, and rebuilds the map, to
// reclaim memory. Must be called with mu held.
func (r *registry) compact() {
	ring := make([]uint64, 0, len(r.failures))
	failures := make(map[uint64]failureRecord, len(r.failures))
	for _, id := range r.ring {
		if id == 0 {
			continue
		}
		if rec, ok := r.failures[id]; ok {
			ring = append(ring, id)
			failures[id] = rec
		}
	}
	r.ring = ring
	r.failures = failures
	r.head = 0
}
