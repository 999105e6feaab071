// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool("test", 2)
	defer p.Close()

	done := make(chan struct{})
	require.NoError(t, p.Execute(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestPoolRejectsWhenSaturated(t *testing.T) {
	p := NewPool("test", 1)
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Execute(func() {
		close(started)
		<-block
	}))
	<-started

	err := p.Execute(func() {})
	require.ErrorIs(t, err, ErrRejected)
	close(block)
}

func TestThreadPoolsLookup(t *testing.T) {
	tp := NewThreadPools(1, 1)
	defer tp.Close()

	require.Equal(t, NameGet, tp.Pool(NameGet).Name())
	require.Equal(t, NameSearch, tp.Pool(NameSearch).Name())
	// Unknown names fall back to the search pool.
	require.Equal(t, NameSearch, tp.Pool("bogus").Name())
}

func TestInlineExecutor(t *testing.T) {
	ran := false
	require.NoError(t, Inline.Execute(func() { ran = true }))
	require.True(t, ran)
}

func TestAsyncExecutor(t *testing.T) {
	done := make(chan struct{})
	require.NoError(t, Async.Execute(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
}
