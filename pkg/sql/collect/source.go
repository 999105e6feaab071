// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package collect

import (
	"context"

	"github.com/quarrydb/quarry/pkg/sql/execphase"
	"github.com/quarrydb/quarry/pkg/sql/rowstream"
)

// CollectSource builds the batch iterator reading one collect phase's rows.
// Implementations exist per storage class: system tables, shard-based doc
// tables, single-row expressions.
type CollectSource interface {
	// GetIterator constructs the iterator for phase. supportMoveToStart
	// demands restartability: implementations that cannot naturally rewind
	// must materialize the produced sequence. The task is offered so
	// implementations can register searchers against it.
	GetIterator(
		ctx context.Context,
		phase execphase.CollectPhase,
		task *CollectTask,
		supportMoveToStart bool,
	) (rowstream.BatchIterator, error)
}

// SourceResolver picks the CollectSource serving a phase.
type SourceResolver func(phase execphase.CollectPhase) (CollectSource, error)
