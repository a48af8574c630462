// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"math"
	"slices"
)

// pSquare estimates a single quantile in constant space, using the P²
// algorithm (Jain & Chlamtac, 1985). Not safe for concurrent use.
type pSquare struct {
	height  [5]float64 // marker heights
	pos     [5]float64 // actual marker positions
	want    [5]float64 // desired marker positions
	step    [5]float64 // desired position increments
	p       float64
	count   int
	warmup  [5]float64
	primed  bool
}

func newPSquare(p float64) *pSquare {
	q := &pSquare{p: p}
	q.step = [5]float64{0, p / 2, p, (1 + p) / 2, 1}
	return q
}

func (q *pSquare) add(x float64) {
	q.count++

	if !q.primed {
		q.warmup[q.count-1] = x
		if q.count < 5 {
			return
		}
		sorted := q.warmup
		slices.Sort(sorted[:])
		q.height = sorted
		q.pos = [5]float64{0, 1, 2, 3, 4}
		q.want = [5]float64{0, 2 * q.p, 4 * q.p, 2 + 2*q.p, 4}
		q.primed = true
		return
	}

	var k int
	switch {
	case x < q.height[0]:
		q.height[0] = x
		k = 0
	case x >= q.height[4]:
		q.height[4] = x
		k = 3
	default:
		for k = 0; k < 3 && x >= q.height[k+1]; k++ {
		}
	}

	for i := k + 1; i < 5; i++ {
		q.pos[i]++
	}
	for i := range q.want {
		q.want[i] += q.step[i]
	}

	for i := 1; i <= 3; i++ {
		d := q.want[i] - q.pos[i]
		if (d >= 1 && q.pos[i+1]-q.pos[i] > 1) || (d <= -1 && q.pos[i-1]-q.pos[i] < -1) {
			s := math.Copysign(1, d)
			h := q.parabolic(i, s)
			if q.height[i-1] < h && h < q.height[i+1] {
				q.height[i] = h
			} else {
				q.height[i] = q.linear(i, s)
			}
			q.pos[i] += s
		}
	}
}

func (q *pSquare) parabolic(i int, s float64) float64 {
	n0, n1, n2 := q.pos[i-1], q.pos[i], q.pos[i+1]
	h0, h1, h2 := q.height[i-1], q.height[i], q.height[i+1]
	return h1 + s/(n2-n0)*((n1-n0+s)*(h2-h1)/(n2-n1)+(n2-n1-s)*(h1-h0)/(n1-n0))
}

func (q *pSquare) linear(i int, s float64) float64 {
	j := i + int(s)
	return q.height[i] + s*(q.height[j]-q.height[i])/(q.pos[j]-q.pos[i])
}

// value returns the current estimate. Before five observations have been
// made it is exact, via nearest rank.
func (q *pSquare) value() float64 {
	if q.count == 0 {
		return 0
	}
	if !q.primed {
		sorted := slices.Clone(q.warmup[:q.count])
		slices.Sort(sorted)
		idx := int(math.Ceil(q.p*float64(len(sorted)))) - 1
		idx = max(0, min(idx, len(sorted)-1))
		return sorted[idx]
	}
	return q.height[2]
}

// quantileSet tracks several quantiles of one stream, plus its mean and
// maximum.
type quantileSet struct {
	estimators []*pSquare
	sum        float64
	max        float64
	count      int
}

func newQuantileSet(ps ...float64) *quantileSet {
	s := &quantileSet{estimators: make([]*pSquare, len(ps))}
	for i, p := range ps {
		s.estimators[i] = newPSquare(p)
	}
	return s
}

func (s *quantileSet) add(x float64) {
	for _, e := range s.estimators {
		e.add(x)
	}
	s.count++
	s.sum += x
	if s.count == 1 || x > s.max {
		s.max = x
	}
}

func (s *quantileSet) quantile(i int) float64 {
	return s.estimators[i].value()
}

func (s *quantileSet) mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}
