// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package rowstream

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/pkg/util/future"
)

func waitConsumer(t *testing.T, c *CollectingConsumer) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.CompletionFuture().Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func TestCollectingConsumerDrainsIterator(t *testing.T) {
	c := NewCollectingConsumer(false)
	c.Accept(NewInMemoryIterator(rows(1, 2, 3)), nil)

	require.NoError(t, waitConsumer(t, c))
	require.Equal(t, rows(1, 2, 3), c.Rows())
}

func TestCollectingConsumerSuspendsOnLoad(t *testing.T) {
	fetched := future.New[[]Row]()
	it := NewAsyncIterator(
		func() *future.Future[[]Row] { return fetched },
		func() {}, func(error) {},
	)
	c := NewCollectingConsumer(false)
	c.Accept(it, nil)

	require.False(t, c.CompletionFuture().IsDone())
	fetched.Complete(rows(4, 5))
	require.NoError(t, waitConsumer(t, c))
	require.Equal(t, rows(4, 5), c.Rows())
}

func TestCollectingConsumerAcceptFailure(t *testing.T) {
	boom := errors.New("boom")
	c := NewCollectingConsumer(false)
	c.Accept(nil, boom)
	require.ErrorIs(t, waitConsumer(t, c), boom)
	require.Empty(t, c.Rows())
}

func TestCollectingConsumerObservesKill(t *testing.T) {
	boom := errors.New("boom")
	it := NewInMemoryIterator(rows(1, 2, 3))
	it.Kill(boom)

	c := NewCollectingConsumer(false)
	c.Accept(it, nil)
	require.ErrorIs(t, waitConsumer(t, c), boom)
	require.Empty(t, c.Rows())
}

func TestCollectingConsumerLoadFailure(t *testing.T) {
	boom := errors.New("boom")
	it := NewAsyncIterator(
		func() *future.Future[[]Row] { return future.Error[[]Row](boom) },
		func() {}, func(error) {},
	)
	c := NewCollectingConsumer(false)
	c.Accept(it, nil)
	require.ErrorIs(t, waitConsumer(t, c), boom)
}
