// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package pagemerge

import (
	"sort"

	"github.com/quarrydb/quarry/pkg/sql/rowstream"
)

// RowComparator orders rows; negative means a sorts before b.
type RowComparator func(a, b rowstream.Row) int

// Sorted is a PagingIterator that performs an ordered merge across
// upstreams: it emits the smallest buffered row as long as every upstream
// that can still deliver data has at least one buffered row. When a live
// upstream's buffer drains, the merge stops and reports that upstream via
// ExhaustedKey so only it gets refilled.
//
// Ties break on the upstream index, keeping the output deterministic.
type Sorted struct {
	cmp      RowComparator
	sources  map[int]*mergeSource
	keys     []int // sorted, for deterministic iteration
	finished bool

	blockedKey int
	blocked    bool
}

type mergeSource struct {
	rows []rowstream.Row
	pos  int
	done bool // upstream sent its final bucket
}

func (s *mergeSource) empty() bool {
	return s.pos >= len(s.rows)
}

var _ PagingIterator = (*Sorted)(nil)

// NewSorted returns an ordered merge using cmp.
func NewSorted(cmp RowComparator) *Sorted {
	return &Sorted{cmp: cmp, sources: make(map[int]*mergeSource)}
}

// Merge is part of the PagingIterator interface.
func (s *Sorted) Merge(page []KeyedBucket) {
	for _, kb := range page {
		src, ok := s.sources[kb.Key]
		if !ok {
			src = &mergeSource{}
			s.sources[kb.Key] = src
			s.keys = append(s.keys, kb.Key)
			sort.Ints(s.keys)
		}
		if src.empty() {
			// Drop consumed rows instead of growing without bound.
			src.rows = src.rows[:0]
			src.pos = 0
		}
		src.rows = append(src.rows, kb.Bucket...)
		if kb.Final {
			src.done = true
		}
	}
	s.blocked = false
}

// Finish is part of the PagingIterator interface.
func (s *Sorted) Finish() {
	s.finished = true
	s.blocked = false
}

// Next is part of the PagingIterator interface.
func (s *Sorted) Next() (rowstream.Row, bool) {
	if s.blocked {
		return nil, false
	}
	var best *mergeSource
	for _, key := range s.keys {
		src := s.sources[key]
		if src.empty() {
			if src.done || s.finished {
				continue
			}
			// A live upstream has no buffered rows: emitting anything now
			// could violate the order. Stop and ask for a refill.
			s.blockedKey = key
			s.blocked = true
			return nil, false
		}
		if best == nil || s.cmp(src.rows[src.pos], best.rows[best.pos]) < 0 {
			best = src
		}
	}
	if best == nil {
		return nil, false
	}
	row := best.rows[best.pos]
	best.pos++
	return row, true
}

// ExhaustedKey is part of the PagingIterator interface.
func (s *Sorted) ExhaustedKey() (int, bool) {
	return s.blockedKey, s.blocked
}

// Repeat is part of the PagingIterator interface.
func (s *Sorted) Repeat() ([]rowstream.Row, error) {
	return nil, ErrRepeatUnsupported
}
