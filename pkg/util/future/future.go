// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package future provides a one-shot completable future. It is the
// synchronization primitive behind page loading, task completion, and async
// record retrieval: a producer completes the future exactly once, any number
// of consumers wait on it or register completion callbacks.
package future

import (
	"context"

	"github.com/quarrydb/quarry/pkg/util/syncutil"
)

// Future is a container for a value of type T that will be produced at most
// once, either successfully or with an error. The zero value is not usable;
// create instances with New, Value, or Error.
//
// The first call to Complete or Fail wins; later calls are no-ops. This
// mirrors the idempotence the receiver relies on when kill races with page
// completion.
type Future[T any] struct {
	done chan struct{}

	mu struct {
		syncutil.Mutex
		completed bool
		value     T
		err       error
		callbacks []func(T, error)
	}
}

// New returns a pending future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Value returns a future already completed with v.
func Value[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v)
	return f
}

// Error returns a future already failed with err.
func Error[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Complete resolves the future with v. Returns false if the future was
// already completed.
func (f *Future[T]) Complete(v T) bool {
	return f.finish(v, nil)
}

// Fail resolves the future with err. Returns false if the future was already
// completed.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.finish(zero, err)
}

func (f *Future[T]) finish(v T, err error) bool {
	f.mu.Lock()
	if f.mu.completed {
		f.mu.Unlock()
		return false
	}
	f.mu.completed = true
	f.mu.value = v
	f.mu.err = err
	callbacks := f.mu.callbacks
	f.mu.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	// Callbacks run on the completing goroutine, outside the lock, in
	// registration order.
	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// WhenComplete registers fn to run once the future resolves. If the future
// has already resolved, fn runs synchronously on the calling goroutine.
func (f *Future[T]) WhenComplete(fn func(T, error)) {
	f.mu.Lock()
	if f.mu.completed {
		v, err := f.mu.value, f.mu.err
		f.mu.Unlock()
		fn(v, err)
		return
	}
	f.mu.callbacks = append(f.mu.callbacks, fn)
	f.mu.Unlock()
}

// Done returns a channel that is closed when the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future resolves and returns its outcome.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.value, f.mu.err
}

// Wait blocks until the future resolves or ctx is canceled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Get()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Err returns the error the future resolved with, or nil. It must only be
// called after the future has resolved.
func (f *Future[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.err
}
