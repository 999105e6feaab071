// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package collect implements the node-local side of a collect phase: the
// task that owns the phase's resources and drives its consumer, the source
// abstraction producing batch iterators, and the operation that schedules
// collects onto the node's thread pools.
package collect

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"go.uber.org/atomic"

	"github.com/quarrydb/quarry/pkg/sql/execphase"
	"github.com/quarrydb/quarry/pkg/sql/jobs"
	"github.com/quarrydb/quarry/pkg/sql/rowstream"
	"github.com/quarrydb/quarry/pkg/util/executor"
	"github.com/quarrydb/quarry/pkg/util/future"
	"github.com/quarrydb/quarry/pkg/util/log"
	"github.com/quarrydb/quarry/pkg/util/mon"
	"github.com/quarrydb/quarry/pkg/util/syncutil"
)

// ErrNotPrepared is returned by Start when Prepare has not run yet.
var ErrNotPrepared = errors.New("task must be prepared before it can start")

// ErrAlreadyStarted is returned by Start when the task is already past
// PREPARED.
var ErrAlreadyStarted = errors.New("task already started")

// ErrDuplicateSearcher marks the registration of two searchers under the
// same id.
var ErrDuplicateSearcher = errors.New("searcher already registered")

// Searcher is a shard-local handle to an index snapshot. Searchers are
// registered during Prepare and owned by the task until it terminates.
type Searcher interface {
	Close() error
}

// taskState values. STOPPED absorbs every other state; the remaining
// transitions are strictly forward.
type taskState int32

const (
	stateCreated taskState = iota
	statePrepared
	stateRunning
	stateStopped
)

func (s taskState) String() string {
	switch s {
	case stateCreated:
		return "CREATED"
	case statePrepared:
		return "PREPARED"
	case stateRunning:
		return "RUNNING"
	case stateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// CollectOperation builds iterators for collect phases and schedules their
// consumers onto a thread pool.
type CollectOperation interface {
	// CreateIterator builds the batch iterator reading the phase's rows.
	// requiresScroll demands MoveToStart support.
	CreateIterator(
		ctx context.Context,
		phase execphase.CollectPhase,
		requiresScroll bool,
		task *CollectTask,
	) (rowstream.BatchIterator, error)

	// Launch runs fn on the named thread pool. A non-nil error means fn
	// will never run.
	Launch(fn func(), pool string) error
}

// CollectTask drives one collect phase on this node. Lifecycle:
// CREATED → PREPARED → RUNNING → STOPPED, with Kill jumping to STOPPED from
// any state. The task owns the phase's memory account and any searchers
// registered during Prepare; both are released exactly once when the
// consumer's completion resolves.
type CollectTask struct {
	ctx      context.Context
	phase    execphase.CollectPhase
	op       CollectOperation
	ram      *mon.BytesAccount
	consumer rowstream.RowConsumer
	shards   *SharedShardContexts

	state      atomic.Int32
	completion *future.Future[jobs.CompletionState]

	mu struct {
		syncutil.Mutex
		batchIterator rowstream.BatchIterator
		searchers     map[string]Searcher
	}
}

var _ jobs.Task = (*CollectTask)(nil)

// NewCollectTask builds a task for the given phase. The consumer's
// completion is chained so that, success or failure, the searchers and the
// memory account are closed before the task's own completion future
// resolves. That future never fails; it reports the bytes the phase
// accounted, and errors surface through the consumer.
func NewCollectTask(
	ctx context.Context,
	phase execphase.CollectPhase,
	op CollectOperation,
	ram *mon.BytesAccount,
	consumer rowstream.RowConsumer,
	shards *SharedShardContexts,
) *CollectTask {
	ctx = logtags.AddTag(ctx, "phase", phase.ID())
	t := &CollectTask{
		ctx:        ctx,
		phase:      phase,
		op:         op,
		ram:        ram,
		consumer:   consumer,
		shards:     shards,
		completion: future.New[jobs.CompletionState](),
	}
	t.mu.searchers = make(map[string]Searcher)
	consumer.CompletionFuture().WhenComplete(func(struct{}, error) {
		t.closeSearchers()
		t.ram.Close()
		t.completion.Complete(jobs.CompletionState{BytesUsed: t.ram.TotalBytes()})
	})
	return t
}

// AddSearcher registers a searcher under id. Registering the same id twice
// is a protocol error; both the old and the new handle are closed before
// the error is returned so neither leaks under a buggy caller.
func (t *CollectTask) AddSearcher(id string, s Searcher) error {
	t.mu.Lock()
	prev, dup := t.mu.searchers[id]
	if !dup {
		t.mu.searchers[id] = s
	}
	t.mu.Unlock()
	if dup {
		_ = prev.Close()
		_ = s.Close()
		return errors.Wrapf(ErrDuplicateSearcher, "searcher %s on phase %d", id, t.phase.ID())
	}
	return nil
}

// Prepare is part of the jobs.Task interface. It builds the phase's batch
// iterator, honoring the consumer's scroll requirement. Calling Prepare
// when the task is past CREATED is a no-op.
func (t *CollectTask) Prepare() error {
	if !t.state.CompareAndSwap(int32(stateCreated), int32(statePrepared)) {
		return nil
	}
	it, err := t.op.CreateIterator(t.ctx, t.phase, t.consumer.RequiresScroll(), t)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.mu.batchIterator = it
	t.mu.Unlock()
	return nil
}

// Start is part of the jobs.Task interface. It schedules the consumer onto
// the phase's thread pool. Starting from CREATED fails, starting twice
// fails; starting after a kill is a no-op.
func (t *CollectTask) Start() error {
	if t.state.CompareAndSwap(int32(statePrepared), int32(stateRunning)) {
		t.mu.Lock()
		it := t.mu.batchIterator
		t.mu.Unlock()
		if log.V(2) {
			log.VEventf(t.ctx, 2, "starting collect %s on pool %s",
				t.phase.Name(), ThreadPoolName(t.phase))
		}
		return t.op.Launch(func() {
			t.consumer.Accept(it, nil)
		}, ThreadPoolName(t.phase))
	}
	switch taskState(t.state.Load()) {
	case stateCreated:
		return errors.Wrapf(ErrNotPrepared, "phase %d", t.phase.ID())
	case stateStopped:
		// Raced with a kill; the kill already notified the consumer.
		return nil
	default:
		return errors.Wrapf(ErrAlreadyStarted, "phase %d", t.phase.ID())
	}
}

// Kill is part of the jobs.Task interface. The terminal action depends on
// how far the task got: before Start the consumer never received an
// iterator, so the cause is handed to it directly; while running, the
// iterator is killed and the consumer unwinds on its next pull.
func (t *CollectTask) Kill(cause error) {
	if cause == nil {
		cause = jobs.ErrJobKilled
	}
	prev := taskState(t.state.Swap(int32(stateStopped)))
	switch prev {
	case stateStopped:
	case stateCreated, statePrepared:
		t.consumer.Accept(nil, cause)
	case stateRunning:
		t.mu.Lock()
		it := t.mu.batchIterator
		t.mu.Unlock()
		it.Kill(cause)
	}
}

// Name is part of the jobs.Task interface.
func (t *CollectTask) Name() string { return t.phase.Name() }

// ID is part of the jobs.Task interface.
func (t *CollectTask) ID() int { return t.phase.ID() }

// CompletionFuture is part of the jobs.Task interface.
func (t *CollectTask) CompletionFuture() *future.Future[jobs.CompletionState] {
	return t.completion
}

// closeSearchers closes every registered searcher. Close errors are
// suppressed; cleanup on the terminal path is best effort.
func (t *CollectTask) closeSearchers() {
	t.mu.Lock()
	searchers := t.mu.searchers
	t.mu.searchers = make(map[string]Searcher)
	t.mu.Unlock()
	for id, s := range searchers {
		if err := s.Close(); err != nil {
			log.Warningf(t.ctx, "closing searcher %s: %v", id, err)
		}
	}
}

// ThreadPoolName maps a phase to the pool its consumer runs on. Routed
// phases at node or shard granularity are short point reads and use the get
// pool; everything else, including non-routed phases, is scan-class work on
// the search pool.
func ThreadPoolName(phase execphase.CollectPhase) string {
	if routed, ok := phase.(*execphase.RoutedCollectPhase); ok {
		switch routed.MaxGranularity {
		case execphase.Node, execphase.Shard:
			return executor.NameGet
		}
	}
	return executor.NameSearch
}
