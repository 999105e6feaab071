// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package pagemerge

import "github.com/quarrydb/quarry/pkg/sql/rowstream"

// Recording wraps a PagingIterator and records every emitted row so the
// stream can be replayed. Used when the consumer requires scroll support:
// wrap the merge before handing it to the receiver.
type Recording struct {
	PagingIterator
	recorded []rowstream.Row
}

var _ PagingIterator = (*Recording)(nil)

// NewRecording returns a recording wrapper around inner.
func NewRecording(inner PagingIterator) *Recording {
	return &Recording{PagingIterator: inner}
}

// Next is part of the PagingIterator interface.
func (r *Recording) Next() (rowstream.Row, bool) {
	row, ok := r.PagingIterator.Next()
	if ok {
		// Rows are only valid until the merge advances; materialize.
		r.recorded = append(r.recorded, rowstream.CopyRow(row))
	}
	return row, ok
}

// Repeat is part of the PagingIterator interface.
func (r *Recording) Repeat() ([]rowstream.Row, error) {
	rows := make([]rowstream.Row, len(r.recorded))
	copy(rows, r.recorded)
	return rows, nil
}
