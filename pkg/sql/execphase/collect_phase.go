// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package execphase describes collect phases: the unit of a query plan that
// reads rows from a source on one node. The planner produces phases; the
// collect engine executes them. Only what the engine needs at runtime is
// modeled here.
package execphase

import (
	"io"

	"github.com/google/uuid"
)

// RowGranularity is the finest level a phase's rows are attributed to. It
// drives thread-pool selection: node- and shard-level collects are short
// point reads, everything else is scan-class work.
type RowGranularity int

const (
	// Cluster rows describe the whole cluster (e.g. sys.cluster).
	Cluster RowGranularity = iota
	// Partition rows describe one table partition.
	Partition
	// Node rows describe one node.
	Node
	// Shard rows describe one shard.
	Shard
	// Doc rows are document-level table rows.
	Doc
)

func (g RowGranularity) String() string {
	switch g {
	case Cluster:
		return "CLUSTER"
	case Partition:
		return "PARTITION"
	case Node:
		return "NODE"
	case Shard:
		return "SHARD"
	case Doc:
		return "DOC"
	default:
		return "UNKNOWN"
	}
}

// Routing describes where a phase reads from: node id → table → shard ids.
// System tables route with an empty shard list.
type Routing struct {
	Locations map[string]map[string][]int
}

// LocalTables returns the tables routed to the given node.
func (r Routing) LocalTables(nodeID string) []string {
	tables := make([]string, 0, len(r.Locations[nodeID]))
	for table := range r.Locations[nodeID] {
		tables = append(tables, table)
	}
	return tables
}

// CollectPhase is one stage of a query plan that reads rows from a source
// on a given node.
type CollectPhase interface {
	ID() int
	Name() string
	JobID() uuid.UUID
}

// RoutedCollectPhase is a collect phase with a routing table, a maximum row
// granularity, and the user on whose behalf the collect runs.
type RoutedCollectPhase struct {
	Job            uuid.UUID
	PhaseID        int
	PhaseName      string
	Routing        Routing
	MaxGranularity RowGranularity
	User           string
}

var _ CollectPhase = (*RoutedCollectPhase)(nil)

// ID is part of the CollectPhase interface.
func (p *RoutedCollectPhase) ID() int { return p.PhaseID }

// Name is part of the CollectPhase interface.
func (p *RoutedCollectPhase) Name() string { return p.PhaseName }

// JobID is part of the CollectPhase interface.
func (p *RoutedCollectPhase) JobID() uuid.UUID { return p.Job }

// Streamer encodes and decodes a single column's values on the wire. The
// planner attaches one streamer per output column to a phase; the collect
// engine carries them opaquely and never inspects the encoding.
type Streamer interface {
	WriteValue(w io.Writer, v interface{}) error
	ReadValue(r io.Reader) (interface{}, error)
}
