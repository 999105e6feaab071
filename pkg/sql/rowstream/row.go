// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package rowstream defines the row data model of the execution engine and
// the batch-iterator protocol that moves rows between producers and
// consumers.
package rowstream

// Row is an ordered tuple of typed cells. Rows handed out by an iterator
// are only valid until the iterator advances; consumers that retain rows
// must materialize them with CopyRow.
type Row []interface{}

// Len returns the number of cells.
func (r Row) Len() int { return len(r) }

// Get returns the i-th cell.
func (r Row) Get(i int) interface{} { return r[i] }

// CopyRow returns a copy of row that remains valid after the producing
// iterator advances.
func CopyRow(row Row) Row {
	if row == nil {
		return nil
	}
	cp := make(Row, len(row))
	copy(cp, row)
	return cp
}

// Bucket is a finite ordered sequence of rows: one upstream's contribution
// to one page.
type Bucket []Row

// EmptyBucket is the sentinel placed under an exhausted upstream's index so
// the page-completion predicate keeps firing without new data.
var EmptyBucket = Bucket{}

// Size returns the number of rows in the bucket.
func (b Bucket) Size() int { return len(b) }
