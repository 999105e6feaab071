// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package executor provides the worker pools that execution phases run on.
//
// Two pools exist per node, mirroring the split between short point-lookup
// style work and long-running scans: the "get" pool serves collect phases
// with node or shard granularity, the "search" pool everything else.
package executor

import (
	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
)

// Pool names. Thread-pool selection for a collect phase maps the phase's
// maximum row granularity to one of these.
const (
	NameGet    = "get"
	NameSearch = "search"
)

// ErrRejected is the sentinel wrapped into errors returned by Execute when
// a task cannot be accepted. Callers that must make progress regardless
// (e.g. page completion in the bucket receiver) run the task inline when
// they see it.
var ErrRejected = errors.New("task rejected by executor")

// Executor runs tasks asynchronously. Execute returns a non-nil error if
// the task was not accepted; in that case the task will never run.
type Executor interface {
	Execute(task func()) error
}

// Pool is an Executor backed by a fixed-size goroutine pool. Submission is
// non-blocking: when all workers are busy, Execute fails with an error
// wrapping ErrRejected rather than queueing unboundedly.
type Pool struct {
	name  string
	inner *ants.Pool
}

var _ Executor = (*Pool)(nil)

// NewPool returns a pool with the given number of workers. It panics on an
// invalid size; pool construction happens once at node startup.
func NewPool(name string, workers int) *Pool {
	inner, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		panic(err)
	}
	return &Pool{name: name, inner: inner}
}

// Execute is part of the Executor interface.
func (p *Pool) Execute(task func()) error {
	if err := p.inner.Submit(task); err != nil {
		return errors.Wrapf(ErrRejected, "pool %s: %v", p.name, err)
	}
	return nil
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Close releases the pool's workers. Pending tasks still run.
func (p *Pool) Close() { p.inner.Release() }

// ThreadPools bundles the per-node pools, addressable by name.
type ThreadPools struct {
	get    *Pool
	search *Pool
}

// NewThreadPools creates the get/search pool pair.
func NewThreadPools(getWorkers, searchWorkers int) *ThreadPools {
	return &ThreadPools{
		get:    NewPool(NameGet, getWorkers),
		search: NewPool(NameSearch, searchWorkers),
	}
}

// Pool returns the pool registered under name. Unknown names resolve to the
// search pool, the catch-all for long-running work.
func (tp *ThreadPools) Pool(name string) *Pool {
	if name == NameGet {
		return tp.get
	}
	return tp.search
}

// Close releases both pools.
func (tp *ThreadPools) Close() {
	tp.get.Close()
	tp.search.Close()
}

// Inline is an Executor that runs tasks synchronously on the calling
// goroutine. Used in tests and for single-threaded drivers.
var Inline Executor = inlineExecutor{}

type inlineExecutor struct{}

func (inlineExecutor) Execute(task func()) error {
	task()
	return nil
}

// Async is an Executor that runs every task on its own goroutine.
var Async Executor = asyncExecutor{}

type asyncExecutor struct{}

func (asyncExecutor) Execute(task func()) error {
	go task()
	return nil
}
