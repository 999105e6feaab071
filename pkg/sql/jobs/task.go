// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package jobs holds the per-node execution primitives of a distributed
// query job: the Task lifecycle contract and the page bucket receivers that
// merge result streams arriving from upstream nodes.
package jobs

import (
	"github.com/cockroachdb/errors"

	"github.com/quarrydb/quarry/pkg/util/future"
)

// ErrJobKilled is the default cause supplied when a task or receiver is
// killed without an explicit reason.
var ErrJobKilled = errors.New("job killed")

// CompletionState describes the resources a finished task consumed. It is
// reported regardless of whether the task succeeded; failure is
// communicated through the task's consumer, not through the completion
// future.
type CompletionState struct {
	BytesUsed int64
}

// Task is a unit of execution of a job on one node. The lifecycle is
// CREATED → PREPARED → RUNNING → STOPPED; Kill moves to STOPPED from any
// state.
type Task interface {
	// Prepare acquires the task's resources. Idempotent once past CREATED.
	Prepare() error

	// Start begins execution. It must be called after Prepare; calling it
	// from CREATED fails, calling it twice fails, calling it after a kill
	// is a no-op.
	Start() error

	// Kill terminates the task with the given cause (ErrJobKilled when
	// nil). Safe to call concurrently with Start and with itself.
	Kill(err error)

	// Name returns the task's phase name.
	Name() string

	// ID returns the task's phase id.
	ID() int

	// CompletionFuture resolves once the task terminated and released its
	// resources. It never fails; errors surface through the consumer.
	CompletionFuture() *future.Future[CompletionState]
}
