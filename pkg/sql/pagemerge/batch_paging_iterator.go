// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package pagemerge

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"

	"github.com/quarrydb/quarry/pkg/sql/rowstream"
	"github.com/quarrydb/quarry/pkg/util/future"
)

// FetchMoreFunc asks the page source for the next page. exhausted names the
// single upstream that drained mid-merge, or is nil when every upstream
// should send its next page. The future resolves with the page's buckets.
type FetchMoreFunc func(exhausted *int) *future.Future[[]KeyedBucket]

// BatchPagingIterator adapts a PagingIterator to the batch-iterator
// protocol: MoveNext yields the merged rows that are currently available,
// LoadNextBatch pulls the next page via fetchMore and feeds it to the
// merge, and close reports the stream's terminal state through
// closeCallback.
//
// A single consumer drives the iterator; Kill and Close may additionally
// be called from the owning receiver when the phase is killed.
type BatchPagingIterator struct {
	pagingIt              PagingIterator
	fetchMore             FetchMoreFunc
	allUpstreamsExhausted func() bool
	closeCallback         func(error)

	current rowstream.Row
	// replay holds recorded rows after MoveToStart; drained before the
	// live merge continues.
	replay    []rowstream.Row
	replayPos int

	killed atomic.Error
	closed atomic.Bool
}

var _ rowstream.BatchIterator = (*BatchPagingIterator)(nil)

// NewBatchPagingIterator wires a merge to its page source. closeCallback is
// invoked exactly once when the iterator is closed, with nil on success or
// the kill cause otherwise.
func NewBatchPagingIterator(
	pagingIt PagingIterator,
	fetchMore FetchMoreFunc,
	allUpstreamsExhausted func() bool,
	closeCallback func(error),
) *BatchPagingIterator {
	return &BatchPagingIterator{
		pagingIt:              pagingIt,
		fetchMore:             fetchMore,
		allUpstreamsExhausted: allUpstreamsExhausted,
		closeCallback:         closeCallback,
		replayPos:             -1,
	}
}

// MoveNext is part of the BatchIterator interface.
func (it *BatchPagingIterator) MoveNext() bool {
	if it.killed.Load() != nil || it.closed.Load() {
		return false
	}
	if it.replay != nil {
		if it.replayPos+1 < len(it.replay) {
			it.replayPos++
			it.current = it.replay[it.replayPos]
			return true
		}
		it.replay = nil
	}
	row, ok := it.pagingIt.Next()
	if !ok {
		it.current = nil
		return false
	}
	it.current = row
	return true
}

// Current is part of the BatchIterator interface.
func (it *BatchPagingIterator) Current() rowstream.Row {
	return it.current
}

// AllLoaded is part of the BatchIterator interface.
func (it *BatchPagingIterator) AllLoaded() bool {
	if it.killed.Load() != nil {
		return false
	}
	return it.allUpstreamsExhausted()
}

// LoadNextBatch is part of the BatchIterator interface.
func (it *BatchPagingIterator) LoadNextBatch() *future.Future[struct{}] {
	if err := it.killed.Load(); err != nil {
		return future.Error[struct{}](err)
	}
	if it.AllLoaded() {
		return future.Error[struct{}](errors.AssertionFailedf("all data already loaded"))
	}
	var exhausted *int
	if key, ok := it.pagingIt.ExhaustedKey(); ok {
		exhausted = &key
	}
	result := future.New[struct{}]()
	it.fetchMore(exhausted).WhenComplete(func(page []KeyedBucket, err error) {
		if err != nil {
			result.Fail(err)
			return
		}
		// The consumer is parked on result, so mutating the merge here is
		// safe: the merge happens-before the future resolves.
		it.pagingIt.Merge(page)
		if it.allUpstreamsExhausted() {
			it.pagingIt.Finish()
		}
		result.Complete(struct{}{})
	})
	return result
}

// MoveToStart is part of the BatchIterator interface. Supported when the
// underlying merge records its output (see NewRecording).
func (it *BatchPagingIterator) MoveToStart() error {
	rows, err := it.pagingIt.Repeat()
	if err != nil {
		return errors.Wrapf(rowstream.ErrMoveToStartUnsupported, "%v", err)
	}
	it.replay = rows
	it.replayPos = -1
	it.current = nil
	return nil
}

// Close is part of the BatchIterator interface.
func (it *BatchPagingIterator) Close() {
	if it.closed.CompareAndSwap(false, true) {
		it.closeCallback(it.killed.Load())
	}
}

// Kill is part of the BatchIterator interface.
func (it *BatchPagingIterator) Kill(err error) {
	it.killed.CompareAndSwap(nil, err)
}
