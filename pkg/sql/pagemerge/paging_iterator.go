// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package pagemerge merges per-upstream bucket streams into a single row
// sequence, one page at a time. The PagingIterator implementations hold the
// merge discipline (concatenation, ordered merge); BatchPagingIterator
// adapts them to the batch-iterator protocol consumed downstream.
package pagemerge

import (
	"github.com/cockroachdb/errors"

	"github.com/quarrydb/quarry/pkg/sql/rowstream"
)

// KeyedBucket is a bucket tagged with the originating upstream index. Final
// marks buckets from upstreams that have sent their last page; an ordered
// merge must not wait for more data from those.
type KeyedBucket struct {
	Key    int
	Bucket rowstream.Bucket
	Final  bool
}

// ErrRepeatUnsupported is returned by Repeat on iterators that do not
// record their output. Wrap a merge in NewRecording when rewindability is
// required.
var ErrRepeatUnsupported = errors.New("paging iterator does not support repeat")

// PagingIterator produces a merged row sequence from pages of keyed
// buckets. Implementations are driven by a single goroutine.
type PagingIterator interface {
	// Merge adds one page of buckets, exactly one per known upstream.
	Merge(page []KeyedBucket)

	// Finish marks that no further pages will arrive. Remaining buffered
	// rows drain through Next without blocking on empty upstreams.
	Finish()

	// Next returns the next merged row. ok is false when no row can be
	// produced right now: either more pages are needed, or the stream is
	// fully drained.
	Next() (_ rowstream.Row, ok bool)

	// ExhaustedKey returns the upstream whose buffer ran dry and is
	// blocking the merge, if any. The receiver refills exactly that
	// upstream.
	ExhaustedKey() (key int, ok bool)

	// Repeat returns every row emitted so far, or ErrRepeatUnsupported.
	Repeat() ([]rowstream.Row, error)
}

// PassThrough is a PagingIterator that concatenates buckets in the order
// they appear within each page (the receiver hands them over in
// upstream-index order). It never blocks on a specific upstream.
type PassThrough struct {
	queue []rowstream.Bucket
	pos   int
}

var _ PagingIterator = (*PassThrough)(nil)

// NewPassThrough returns an empty concatenating iterator.
func NewPassThrough() *PassThrough {
	return &PassThrough{}
}

// Merge is part of the PagingIterator interface.
func (p *PassThrough) Merge(page []KeyedBucket) {
	for _, kb := range page {
		if len(kb.Bucket) > 0 {
			p.queue = append(p.queue, kb.Bucket)
		}
	}
}

// Finish is part of the PagingIterator interface.
func (p *PassThrough) Finish() {}

// Next is part of the PagingIterator interface.
func (p *PassThrough) Next() (rowstream.Row, bool) {
	for len(p.queue) > 0 {
		bucket := p.queue[0]
		if p.pos < len(bucket) {
			row := bucket[p.pos]
			p.pos++
			return row, true
		}
		p.queue = p.queue[1:]
		p.pos = 0
	}
	return nil, false
}

// ExhaustedKey is part of the PagingIterator interface. Concatenation has
// no per-upstream refill requirement.
func (p *PassThrough) ExhaustedKey() (int, bool) {
	return 0, false
}

// Repeat is part of the PagingIterator interface.
func (p *PassThrough) Repeat() ([]rowstream.Row, error) {
	return nil, ErrRepeatUnsupported
}
