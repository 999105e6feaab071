// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package rowstream

import (
	"github.com/cockroachdb/errors"

	"github.com/quarrydb/quarry/pkg/util/future"
	"github.com/quarrydb/quarry/pkg/util/syncutil"
)

// ErrMoveToStartUnsupported is returned by MoveToStart on iterators that
// cannot rewind. Callers that need rewindability request it up front via
// the supportMoveToStart flag when building the iterator.
var ErrMoveToStartUnsupported = errors.New("iterator cannot move to start")

// errAllLoaded is returned (via a failed future) when LoadNextBatch is
// called even though AllLoaded reported true. That is a consumer bug, not a
// runtime condition.
var errAllLoaded = errors.AssertionFailedf("all data already loaded")

// BatchIterator is a pull-based row cursor. Data arrives in batches:
// MoveNext walks the currently loaded batch; once it returns false the
// consumer checks AllLoaded and, if more data may come, suspends on the
// future returned by LoadNextBatch.
//
// Unless noted otherwise, implementations are not safe for concurrent use —
// a single consumer drives the iterator. Kill is the exception: it may be
// called from any goroutine to terminate the iteration.
type BatchIterator interface {
	// MoveNext advances to the next row in the loaded data. It returns
	// false when the loaded data is exhausted or the iterator was killed.
	MoveNext() bool

	// Current returns the row the iterator is positioned on. Only valid
	// after MoveNext returned true, and only until the next advance.
	Current() Row

	// AllLoaded reports whether all data has been loaded. If it returns
	// false after MoveNext returned false, the consumer must call
	// LoadNextBatch. Killed iterators report false regardless of loaded
	// data, so the kill cause reaches the consumer through LoadNextBatch
	// instead of the drain terminating as a success.
	AllLoaded() bool

	// LoadNextBatch triggers loading of the next batch. The returned future
	// resolves once more rows are available via MoveNext, or fails with the
	// terminal error of the stream.
	LoadNextBatch() *future.Future[struct{}]

	// MoveToStart rewinds the iterator. Returns ErrMoveToStartUnsupported
	// if the iterator was not built with rewind support.
	MoveToStart() error

	// Close releases resources held by the iterator. Idempotent.
	Close()

	// Kill terminates the iteration with the given error. A consumer
	// currently pulling observes the failure on its next LoadNextBatch.
	Kill(err error)
}

// InMemoryIterator is a BatchIterator over rows that are already
// materialized. All data counts as loaded from the start.
type InMemoryIterator struct {
	rows []Row
	pos  int

	mu struct {
		syncutil.Mutex
		killed error
		closed bool
	}
}

var _ BatchIterator = (*InMemoryIterator)(nil)

// NewInMemoryIterator returns an iterator over the given rows. The rows are
// not copied.
func NewInMemoryIterator(rows []Row) *InMemoryIterator {
	return &InMemoryIterator{rows: rows, pos: -1}
}

// EmptyIterator returns an iterator producing no rows.
func EmptyIterator() *InMemoryIterator {
	return NewInMemoryIterator(nil)
}

// MoveNext is part of the BatchIterator interface.
func (it *InMemoryIterator) MoveNext() bool {
	if it.terminalErr() != nil {
		return false
	}
	if it.pos+1 >= len(it.rows) {
		it.pos = len(it.rows)
		return false
	}
	it.pos++
	return true
}

// Current is part of the BatchIterator interface.
func (it *InMemoryIterator) Current() Row {
	return it.rows[it.pos]
}

// AllLoaded is part of the BatchIterator interface.
func (it *InMemoryIterator) AllLoaded() bool { return it.terminalErr() == nil }

// LoadNextBatch is part of the BatchIterator interface.
func (it *InMemoryIterator) LoadNextBatch() *future.Future[struct{}] {
	if err := it.terminalErr(); err != nil {
		return future.Error[struct{}](err)
	}
	return future.Error[struct{}](errAllLoaded)
}

// MoveToStart is part of the BatchIterator interface.
func (it *InMemoryIterator) MoveToStart() error {
	it.pos = -1
	return nil
}

// Close is part of the BatchIterator interface.
func (it *InMemoryIterator) Close() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.mu.closed = true
}

// Kill is part of the BatchIterator interface.
func (it *InMemoryIterator) Kill(err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.mu.killed == nil {
		it.mu.killed = err
	}
}

func (it *InMemoryIterator) terminalErr() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.mu.killed
}

// listenableIterator wraps a BatchIterator and resolves a completion future
// when the iteration terminates: successfully on Close, exceptionally if
// the iterator was killed first. It backs the zero-upstreams path of the
// bucket receiver, where no paging iterator exists to report completion.
type listenableIterator struct {
	BatchIterator
	completion *future.Future[struct{}]

	mu struct {
		syncutil.Mutex
		killed error
	}
}

// NewListenableIterator wraps inner so that completion resolves when the
// iteration terminates.
func NewListenableIterator(
	inner BatchIterator, completion *future.Future[struct{}],
) BatchIterator {
	return &listenableIterator{BatchIterator: inner, completion: completion}
}

// Kill is part of the BatchIterator interface.
func (it *listenableIterator) Kill(err error) {
	it.mu.Lock()
	if it.mu.killed == nil {
		it.mu.killed = err
	}
	it.mu.Unlock()
	it.BatchIterator.Kill(err)
}

// Close is part of the BatchIterator interface.
func (it *listenableIterator) Close() {
	it.BatchIterator.Close()
	it.mu.Lock()
	killed := it.mu.killed
	it.mu.Unlock()
	if killed != nil {
		it.completion.Fail(killed)
	} else {
		it.completion.Complete(struct{}{})
	}
}
