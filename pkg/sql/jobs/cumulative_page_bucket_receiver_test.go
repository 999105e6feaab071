// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package jobs

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/quarrydb/quarry/pkg/sql/pagemerge"
	"github.com/quarrydb/quarry/pkg/sql/rowstream"
	"github.com/quarrydb/quarry/pkg/util/executor"
	"github.com/quarrydb/quarry/pkg/util/syncutil"
)

func bucket(vals ...int) rowstream.Bucket {
	b := make(rowstream.Bucket, len(vals))
	for i, v := range vals {
		b[i] = rowstream.Row{v}
	}
	return b
}

func intCmp(a, b rowstream.Row) int {
	return a[0].(int) - b[0].(int)
}

func rowValues(rows []rowstream.Row) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r[0].(int)
	}
	return out
}

func waitConsumer(t *testing.T, c *rowstream.CollectingConsumer) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.CompletionFuture().Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

// recordingListener records the NeedMore signals an upstream would see.
type recordingListener struct {
	mu    syncutil.Mutex
	calls []bool
}

func (l *recordingListener) NeedMore(more bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, more)
}

func (l *recordingListener) signals() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bool, len(l.calls))
	copy(out, l.calls)
	return out
}

// upstream is a scripted peer: it pushes its next page whenever the
// receiver signals NeedMore(true), marking the last page final.
type upstream struct {
	recv  PageBucketReceiver
	idx   int
	pages []rowstream.Bucket

	mu   syncutil.Mutex
	sent int
	log  []bool
}

func (u *upstream) send() {
	u.mu.Lock()
	page := u.pages[u.sent]
	u.sent++
	last := u.sent == len(u.pages)
	u.mu.Unlock()
	u.recv.SetBucket(u.idx, page, last, u)
}

func (u *upstream) NeedMore(more bool) {
	u.mu.Lock()
	u.log = append(u.log, more)
	u.mu.Unlock()
	if more {
		u.send()
	}
}

func (u *upstream) signals() []bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]bool, len(u.log))
	copy(out, u.log)
	return out
}

func TestReceiverMergesTwoUpstreamsAcrossPages(t *testing.T) {
	pool := executor.NewPool("search", 2)
	defer pool.Close()

	consumer := rowstream.NewCollectingConsumer(false)
	recv := NewCumulativePageBucketReceiver(
		context.Background(), "n1", 1, pool, nil, consumer, pagemerge.NewPassThrough(), 2,
	)
	u0 := &upstream{recv: recv, idx: 0, pages: []rowstream.Bucket{bucket(1, 2), bucket(5)}}
	u1 := &upstream{recv: recv, idx: 1, pages: []rowstream.Bucket{bucket(3, 4), bucket(6)}}

	u0.send()
	u1.send()

	require.NoError(t, waitConsumer(t, consumer))
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, rowValues(consumer.Rows()))

	// One NeedMore(true) per non-final page delivered, exactly one
	// NeedMore(false) at exhaustion.
	require.Equal(t, []bool{true, false}, u0.signals())
	require.Equal(t, []bool{true, false}, u1.signals())

	_, err := recv.CompletionFuture().Get()
	require.NoError(t, err)
}

func TestReceiverRefillsOnlyDrainedUpstream(t *testing.T) {
	consumer := rowstream.NewCollectingConsumer(false)
	recv := NewCumulativePageBucketReceiver(
		context.Background(), "n1", 1, executor.Inline, nil, consumer,
		pagemerge.NewSorted(intCmp), 2,
	)
	u0 := &upstream{recv: recv, idx: 0, pages: []rowstream.Bucket{bucket(1, 5)}}
	u1 := &upstream{recv: recv, idx: 1, pages: []rowstream.Bucket{bucket(2, 3), bucket(4, 6)}}

	u0.send()
	u1.send()

	require.NoError(t, waitConsumer(t, consumer))
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, rowValues(consumer.Rows()))

	// Upstream 0 was exhausted on its first page; only upstream 1 is ever
	// asked for more.
	require.Equal(t, []bool{false}, u0.signals())
	require.Equal(t, []bool{true, false}, u1.signals())
}

func TestReceiverKillDuringFetch(t *testing.T) {
	boom := errors.New("boom")
	consumer := rowstream.NewCollectingConsumer(false)
	recv := NewCumulativePageBucketReceiver(
		context.Background(), "n1", 1, executor.Inline, nil, consumer,
		pagemerge.NewPassThrough(), 2,
	)
	l0 := &recordingListener{}
	l1 := &recordingListener{}
	recv.SetBucket(0, bucket(1), false, l0)
	recv.SetBucket(1, bucket(2), false, l1)

	// Wait until the downstream consumed page one and asked for more.
	require.Eventually(t, func() bool {
		sig := l0.signals()
		return len(sig) > 0 && sig[0]
	}, 5*time.Second, time.Millisecond)

	recv.Kill(boom)
	require.ErrorIs(t, waitConsumer(t, consumer), boom)
	_, err := recv.CompletionFuture().Get()
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{1, 2}, rowValues(consumer.Rows()))

	// A bucket arriving after the kill is told to stop immediately.
	late := &recordingListener{}
	recv.SetBucket(0, bucket(9), false, late)
	require.Equal(t, []bool{false}, late.signals())
}

func TestReceiverDuplicateBucket(t *testing.T) {
	consumer := rowstream.NewCollectingConsumer(false)
	recv := NewCumulativePageBucketReceiver(
		context.Background(), "n1", 7, executor.Inline, nil, consumer,
		pagemerge.NewPassThrough(), 2,
	)
	l0 := &recordingListener{}
	l0b := &recordingListener{}
	recv.SetBucket(0, bucket(1), false, l0)
	recv.SetBucket(0, bucket(2), false, l0b)

	_, err := recv.CompletionFuture().Get()
	require.ErrorIs(t, err, ErrDuplicateBucket)
	require.ErrorContains(t, err, "phaseId=7")

	// The page never completed, so no partial rows reached the consumer.
	require.Empty(t, consumer.Rows())
	// The stashed listener was released when the stream turned terminal.
	require.Equal(t, []bool{false}, l0b.signals())

	recv.Kill(err)
	require.Error(t, waitConsumer(t, consumer))
}

func TestReceiverZeroUpstreams(t *testing.T) {
	consumer := rowstream.NewCollectingConsumer(false)
	recv := NewCumulativePageBucketReceiver(
		context.Background(), "n1", 1, executor.Inline, nil, consumer,
		pagemerge.NewPassThrough(), 0,
	)

	require.NoError(t, waitConsumer(t, consumer))
	require.Empty(t, consumer.Rows())
	_, err := recv.CompletionFuture().Get()
	require.NoError(t, err)
	require.Nil(t, recv.Streamers())
	recv.ConsumeRows()
}

// rejectingExecutor refuses every submission, forcing the receiver to
// complete pages inline.
type rejectingExecutor struct{}

func (rejectingExecutor) Execute(func()) error {
	return errors.Wrap(executor.ErrRejected, "saturated")
}

func TestReceiverInlineCompletionOnRejection(t *testing.T) {
	consumer := rowstream.NewCollectingConsumer(false)
	recv := NewCumulativePageBucketReceiver(
		context.Background(), "n1", 1, rejectingExecutor{}, nil, consumer,
		pagemerge.NewPassThrough(), 1,
	)
	u0 := &upstream{recv: recv, idx: 0, pages: []rowstream.Bucket{bucket(1, 2), bucket(3)}}
	u0.send()

	require.NoError(t, waitConsumer(t, consumer))
	require.Equal(t, []int{1, 2, 3}, rowValues(consumer.Rows()))
	_, err := recv.CompletionFuture().Get()
	require.NoError(t, err)
}

func TestReceiverConcurrentUpstreams(t *testing.T) {
	pool := executor.NewPool("search", 4)
	defer pool.Close()

	const numUpstreams = 4
	consumer := rowstream.NewCollectingConsumer(false)
	recv := NewCumulativePageBucketReceiver(
		context.Background(), "n1", 1, pool, nil, consumer,
		pagemerge.NewPassThrough(), numUpstreams,
	)

	var want []int
	ups := make([]*upstream, numUpstreams)
	for i := 0; i < numUpstreams; i++ {
		first := bucket(i*10, i*10+1)
		second := bucket(i * 100)
		want = append(want, i*10, i*10+1, i*100)
		ups[i] = &upstream{
			recv:  recv,
			idx:   i,
			pages: []rowstream.Bucket{first, second},
		}
	}

	var g errgroup.Group
	for _, u := range ups {
		u := u
		g.Go(func() error {
			u.send()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.NoError(t, waitConsumer(t, consumer))
	got := rowValues(consumer.Rows())
	require.Len(t, got, len(want))
	sort.Ints(got)
	sort.Ints(want)
	require.Equal(t, want, got)

	for _, u := range ups {
		require.Equal(t, []bool{true, false}, u.signals())
	}
}
