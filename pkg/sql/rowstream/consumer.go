// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package rowstream

import (
	"github.com/quarrydb/quarry/pkg/util/future"
	"github.com/quarrydb/quarry/pkg/util/syncutil"
)

// RowConsumer is the downstream sink of a batch iterator. The producer
// calls Accept exactly once, either with an iterator or with a failure.
// The consumer's completion future is the single source of truth for
// whether the phase succeeded.
type RowConsumer interface {
	// Accept hands the iterator to the consumer, or reports that the
	// producer failed before an iterator could be built. Exactly one of it
	// and err is non-nil.
	Accept(it BatchIterator, err error)

	// CompletionFuture resolves when the consumer finished, successfully or
	// not.
	CompletionFuture() *future.Future[struct{}]

	// RequiresScroll reports whether the consumer needs to rewind the
	// iterator (MoveToStart support).
	RequiresScroll() bool
}

// CollectingConsumer is a RowConsumer that materializes every row it
// receives. It drives the iterator on its own goroutine, suspending on
// LoadNextBatch futures; that makes it both the reference driver of the
// batch-iterator protocol and the consumer used throughout the tests.
type CollectingConsumer struct {
	requiresScroll bool
	completion     *future.Future[struct{}]

	mu struct {
		syncutil.Mutex
		rows []Row
	}
}

var _ RowConsumer = (*CollectingConsumer)(nil)

// NewCollectingConsumer returns an empty consumer. requiresScroll is
// forwarded through RequiresScroll to iterator construction.
func NewCollectingConsumer(requiresScroll bool) *CollectingConsumer {
	return &CollectingConsumer{
		requiresScroll: requiresScroll,
		completion:     future.New[struct{}](),
	}
}

// Accept is part of the RowConsumer interface.
func (c *CollectingConsumer) Accept(it BatchIterator, err error) {
	if err != nil {
		if it != nil {
			it.Close()
		}
		c.completion.Fail(err)
		return
	}
	go c.drain(it)
}

func (c *CollectingConsumer) drain(it BatchIterator) {
	for {
		for it.MoveNext() {
			row := CopyRow(it.Current())
			c.mu.Lock()
			c.mu.rows = append(c.mu.rows, row)
			c.mu.Unlock()
		}
		if it.AllLoaded() {
			it.Close()
			c.completion.Complete(struct{}{})
			return
		}
		if _, err := it.LoadNextBatch().Get(); err != nil {
			it.Close()
			c.completion.Fail(err)
			return
		}
	}
}

// CompletionFuture is part of the RowConsumer interface.
func (c *CollectingConsumer) CompletionFuture() *future.Future[struct{}] {
	return c.completion
}

// RequiresScroll is part of the RowConsumer interface.
func (c *CollectingConsumer) RequiresScroll() bool {
	return c.requiresScroll
}

// Rows returns the rows collected so far.
func (c *CollectingConsumer) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]Row, len(c.mu.rows))
	copy(rows, c.mu.rows)
	return rows
}
