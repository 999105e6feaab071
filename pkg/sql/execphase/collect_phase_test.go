// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package execphase

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRowGranularityString(t *testing.T) {
	require.Equal(t, "CLUSTER", Cluster.String())
	require.Equal(t, "SHARD", Shard.String())
	require.Equal(t, "UNKNOWN", RowGranularity(99).String())
}

func TestRoutingLocalTables(t *testing.T) {
	r := Routing{Locations: map[string]map[string][]int{
		"n1": {"sys.nodes": nil},
		"n2": {"doc.users": {0, 1}},
	}}
	require.Equal(t, []string{"sys.nodes"}, r.LocalTables("n1"))
	require.Empty(t, r.LocalTables("n3"))
}

func TestRoutedCollectPhase(t *testing.T) {
	job := uuid.New()
	p := &RoutedCollectPhase{Job: job, PhaseID: 3, PhaseName: "collect"}
	require.Equal(t, 3, p.ID())
	require.Equal(t, "collect", p.Name())
	require.Equal(t, job, p.JobID())
}
