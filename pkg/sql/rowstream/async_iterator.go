// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package rowstream

import (
	"go.uber.org/atomic"

	"github.com/quarrydb/quarry/pkg/util/future"
)

// AsyncIterator is a BatchIterator whose rows are produced by a single
// asynchronous retrieval, triggered lazily by the first LoadNextBatch.
// System-table collects use it: the records may live on another node, so
// the fetch returns a future and the whole result is materialized at once.
type AsyncIterator struct {
	fetch   func() *future.Future[[]Row]
	onClose func()
	onKill  func(error)

	rows   []Row
	pos    int
	loaded bool

	killed atomic.Error
}

var _ BatchIterator = (*AsyncIterator)(nil)

// NewAsyncIterator returns an iterator over the rows produced by fetch.
// onClose and onKill are invoked on the corresponding iterator calls; pass
// no-ops when the retrieval cannot be interrupted.
func NewAsyncIterator(
	fetch func() *future.Future[[]Row], onClose func(), onKill func(error),
) *AsyncIterator {
	return &AsyncIterator{fetch: fetch, onClose: onClose, onKill: onKill, pos: -1}
}

// MoveNext is part of the BatchIterator interface.
func (it *AsyncIterator) MoveNext() bool {
	if !it.loaded || it.killed.Load() != nil {
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
func (it *AsyncIterator) Current() Row {
	return it.rows[it.pos]
}

// AllLoaded is part of the BatchIterator interface.
func (it *AsyncIterator) AllLoaded() bool {
	return it.killed.Load() == nil && it.loaded
}

// LoadNextBatch is part of the BatchIterator interface.
func (it *AsyncIterator) LoadNextBatch() *future.Future[struct{}] {
	if err := it.killed.Load(); err != nil {
		return future.Error[struct{}](err)
	}
	if it.loaded {
		return future.Error[struct{}](errAllLoaded)
	}
	result := future.New[struct{}]()
	it.fetch().WhenComplete(func(rows []Row, err error) {
		if err != nil {
			result.Fail(err)
			return
		}
		if killErr := it.killed.Load(); killErr != nil {
			result.Fail(killErr)
			return
		}
		it.rows = rows
		it.loaded = true
		result.Complete(struct{}{})
	})
	return result
}

// MoveToStart is part of the BatchIterator interface. The rows are fully
// materialized once loaded, so rewinding is always supported.
func (it *AsyncIterator) MoveToStart() error {
	it.pos = -1
	return nil
}

// Close is part of the BatchIterator interface.
func (it *AsyncIterator) Close() {
	it.onClose()
}

// Kill is part of the BatchIterator interface.
func (it *AsyncIterator) Kill(err error) {
	it.killed.CompareAndSwap(nil, err)
	it.onKill(err)
}
