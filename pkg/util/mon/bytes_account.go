// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package mon implements memory accounting for execution phases. A
// BytesAccount is handed to a collect task at construction; everything the
// phase allocates on behalf of the query is registered against it, and the
// total is reported when the task terminates.
package mon

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
)

// ErrMemoryLimitExceeded is the sentinel wrapped into errors returned by
// Grow when an account would exceed its budget.
var ErrMemoryLimitExceeded = errors.New("memory budget exceeded")

// BytesAccount tracks bytes attributed to one execution phase.
//
// Grow and Shrink may be called concurrently from collector goroutines.
// Close is idempotent; after Close, TotalBytes still reports the high-water
// usage so task completion can surface it.
type BytesAccount struct {
	name  string
	limit int64 // 0 means unlimited

	used   atomic.Int64
	total  atomic.Int64
	closed atomic.Bool
}

// NewBytesAccount returns an account limited to limit bytes. A limit of 0
// disables the check.
func NewBytesAccount(name string, limit int64) *BytesAccount {
	return &BytesAccount{name: name, limit: limit}
}

// NewUnlimitedAccount returns an account with no budget check.
func NewUnlimitedAccount(name string) *BytesAccount {
	return NewBytesAccount(name, 0)
}

// Grow registers n additional bytes. If the account's budget would be
// exceeded, the registration is rolled back and an error wrapping
// ErrMemoryLimitExceeded is returned.
func (a *BytesAccount) Grow(n int64) error {
	used := a.used.Add(n)
	if a.limit > 0 && used > a.limit {
		a.used.Sub(n)
		return errors.Wrapf(ErrMemoryLimitExceeded,
			"%s: cannot allocate %d bytes (%d/%d in use)", a.name, n, used-n, a.limit)
	}
	a.total.Add(n)
	return nil
}

// Shrink releases n bytes previously registered with Grow.
func (a *BytesAccount) Shrink(n int64) {
	a.used.Sub(n)
}

// Used returns the bytes currently registered.
func (a *BytesAccount) Used() int64 {
	return a.used.Load()
}

// TotalBytes returns the cumulative bytes ever registered. This is the
// figure reported in the task's CompletionState.
func (a *BytesAccount) TotalBytes() int64 {
	return a.total.Load()
}

// Close releases the account. Safe to call more than once; only the first
// call has an effect.
func (a *BytesAccount) Close() {
	if a.closed.CompareAndSwap(false, true) {
		a.used.Store(0)
	}
}

// Closed reports whether Close has been called.
func (a *BytesAccount) Closed() bool {
	return a.closed.Load()
}

// Name returns the account's name, typically the owning phase's name.
func (a *BytesAccount) Name() string { return a.name }
