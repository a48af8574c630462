// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

func TestPSquare_warmupIsExact(t *testing.T) {
	q := newPSquare(0.5)
	if v := q.value(); v != 0 {
		t.Fatalf("expected zero value, got %v", v)
	}
	for _, x := range []float64{5, 1, 3} {
		q.add(x)
	}
	if v := q.value(); v != 3 {
		t.Fatalf("expected median 3, got %v", v)
	}
}

func TestPSquare_uniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	set := newQuantileSet(trackedQuantiles[:]...)
	const n = 100000
	for range n {
		set.add(rng.Float64() * 1000)
	}
	for i, p := range trackedQuantiles {
		got := set.quantile(i)
		want := p * 1000
		if math.Abs(got-want) > 15 {
			t.Errorf("p%.0f: got %.2f, want about %.2f", p*100, got, want)
		}
	}
	if set.count != n {
		t.Fatalf("unexpected count %d", set.count)
	}
	if mean := set.mean(); math.Abs(mean-500) > 10 {
		t.Errorf("unexpected mean %.2f", mean)
	}
	if set.max > 1000 || set.max < 990 {
		t.Errorf("unexpected max %.2f", set.max)
	}
}

func TestPSquare_monotonicInput(t *testing.T) {
	q := newPSquare(0.99)
	for i := 1; i <= 10000; i++ {
		q.add(float64(i))
	}
	if v := q.value(); v < 9800 || v > 10000 {
		t.Fatalf("unexpected p99 %.2f", v)
	}
}

func TestLatencyRecorder_snapshot(t *testing.T) {
	l := newLatencyRecorder()
	for i := 1; i <= 100; i++ {
		l.record(time.Duration(i) * time.Millisecond)
	}
	m := l.snapshot()
	if m.Count != 100 {
		t.Fatalf("unexpected count %d", m.Count)
	}
	if m.Max != 100*time.Millisecond {
		t.Fatalf("unexpected max %v", m.Max)
	}
	if m.P50 < 40*time.Millisecond || m.P50 > 60*time.Millisecond {
		t.Fatalf("unexpected p50 %v", m.P50)
	}
	if !(m.P50 <= m.P90 && m.P90 <= m.P95 && m.P95 <= m.P99 && m.P99 <= m.Max) {
		t.Fatalf("percentiles out of order: %+v", m)
	}
}

func TestRateCounter(t *testing.T) {
	r := newRateCounter(time.Second, 100*time.Millisecond)
	for range 50 {
		r.increment()
	}
	if v := r.rate(); v != 50 {
		t.Fatalf("unexpected rate %v", v)
	}

	r.mu.Lock()
	r.rotate(r.last.Add(2 * time.Second))
	r.mu.Unlock()
	if v := r.rate(); v != 0 {
		t.Fatalf("expected the window to expire, got %v", v)
	}
}
