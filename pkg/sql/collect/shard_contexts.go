// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package collect

import (
	"github.com/cockroachdb/errors"

	"github.com/quarrydb/quarry/pkg/util/syncutil"
)

// SharedShardContexts tracks which collect phase of a job reads each local
// shard. It exists per job and is shared by that job's tasks so two phases
// never open the same shard concurrently.
type SharedShardContexts struct {
	mu struct {
		syncutil.Mutex
		assigned map[int]int // shard id → phase id
	}
}

// NewSharedShardContexts returns an empty context set.
func NewSharedShardContexts() *SharedShardContexts {
	c := &SharedShardContexts{}
	c.mu.assigned = make(map[int]int)
	return c
}

// Assign claims shardID for phaseID. Claiming an already-assigned shard is
// an error unless the claimant is the phase that holds it.
func (c *SharedShardContexts) Assign(shardID, phaseID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if holder, ok := c.mu.assigned[shardID]; ok && holder != phaseID {
		return errors.Newf("shard %d already assigned to phase %d", shardID, holder)
	}
	c.mu.assigned[shardID] = phaseID
	return nil
}

// Release gives up shardID's assignment.
func (c *SharedShardContexts) Release(shardID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mu.assigned, shardID)
}

// PhaseFor returns the phase holding shardID, if any.
func (c *SharedShardContexts) PhaseFor(shardID int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	phase, ok := c.mu.assigned[shardID]
	return phase, ok
}
