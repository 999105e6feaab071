// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package collect

import (
	"context"

	"github.com/quarrydb/quarry/pkg/sql/execphase"
	"github.com/quarrydb/quarry/pkg/sql/rowstream"
	"github.com/quarrydb/quarry/pkg/util/executor"
)

// MapSideCollectOperation is the node-local collect operation: it resolves
// a phase to its source, builds the iterator, and schedules consumers onto
// the node's thread pools.
type MapSideCollectOperation struct {
	resolve SourceResolver
	pools   *executor.ThreadPools
}

var _ CollectOperation = (*MapSideCollectOperation)(nil)

// NewMapSideCollectOperation returns an operation dispatching phases
// through resolve and scheduling onto pools.
func NewMapSideCollectOperation(
	resolve SourceResolver, pools *executor.ThreadPools,
) *MapSideCollectOperation {
	return &MapSideCollectOperation{resolve: resolve, pools: pools}
}

// CreateIterator is part of the CollectOperation interface.
func (op *MapSideCollectOperation) CreateIterator(
	ctx context.Context,
	phase execphase.CollectPhase,
	requiresScroll bool,
	task *CollectTask,
) (rowstream.BatchIterator, error) {
	source, err := op.resolve(phase)
	if err != nil {
		return nil, err
	}
	return source.GetIterator(ctx, phase, task, requiresScroll)
}

// Launch is part of the CollectOperation interface.
func (op *MapSideCollectOperation) Launch(fn func(), pool string) error {
	return op.pools.Pool(pool).Execute(fn)
}
