// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package collect

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/quarrydb/quarry/pkg/sql/execphase"
	"github.com/quarrydb/quarry/pkg/sql/rowstream"
	"github.com/quarrydb/quarry/pkg/sql/systable"
	"github.com/quarrydb/quarry/pkg/util/future"
)

// SystemCollectSource serves collect phases over the static system tables:
// it resolves the single local table from the phase's routing, retrieves
// the table's records for the querying user, and projects them into rows.
type SystemCollectSource struct {
	nodeID  string
	catalog *systable.Catalog
}

var _ CollectSource = (*SystemCollectSource)(nil)

// NewSystemCollectSource returns a source serving the given catalog on the
// given node.
func NewSystemCollectSource(nodeID string, catalog *systable.Catalog) *SystemCollectSource {
	return &SystemCollectSource{nodeID: nodeID, catalog: catalog}
}

// GetIterator is part of the CollectSource interface. The retrieval may be
// a remote call, so the rows are produced by an async iterator; once loaded
// they are fully materialized, which satisfies supportMoveToStart without
// extra work. Killing the iterator is a no-op at this layer: the retrieval
// cannot be interrupted, and cancellation is handled by the iterator
// wrapper refusing to surface rows after the kill.
func (s *SystemCollectSource) GetIterator(
	ctx context.Context,
	phase execphase.CollectPhase,
	task *CollectTask,
	supportMoveToStart bool,
) (rowstream.BatchIterator, error) {
	routed, ok := phase.(*execphase.RoutedCollectPhase)
	if !ok {
		return nil, errors.AssertionFailedf(
			"system collect requires a routed phase, got %T", phase)
	}
	tables := routed.Routing.LocalTables(s.nodeID)
	if len(tables) != 1 {
		return nil, errors.AssertionFailedf(
			"phase %d routes %d tables to node %s, expected exactly one",
			routed.ID(), len(tables), s.nodeID)
	}
	rel := systable.ParseRelationName(tables[0])
	def, err := s.catalog.Definition(rel)
	if err != nil {
		return nil, err
	}
	fetch := func() *future.Future[[]rowstream.Row] {
		result := future.New[[]rowstream.Row]()
		def.Retrieve(ctx, routed.User).WhenComplete(func(records []interface{}, err error) {
			if err != nil {
				result.Fail(err)
				return
			}
			result.Complete(def.RowsFromRecords(records))
		})
		return result
	}
	return rowstream.NewAsyncIterator(fetch, func() {}, func(error) {}), nil
}
