// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package pagemerge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/pkg/sql/rowstream"
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

func drainMerge(it PagingIterator) []int {
	var out []int
	for {
		row, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, row[0].(int))
	}
}

func TestPassThroughConcatsInPageOrder(t *testing.T) {
	p := NewPassThrough()
	p.Merge([]KeyedBucket{
		{Key: 0, Bucket: bucket(1, 2)},
		{Key: 1, Bucket: bucket(3)},
	})
	require.Equal(t, []int{1, 2, 3}, drainMerge(p))

	p.Merge([]KeyedBucket{
		{Key: 0, Bucket: bucket(4), Final: true},
		{Key: 1, Bucket: rowstream.EmptyBucket, Final: true},
	})
	require.Equal(t, []int{4}, drainMerge(p))

	_, ok := p.ExhaustedKey()
	require.False(t, ok)
}

func TestSortedMergeBlocksOnDrainedUpstream(t *testing.T) {
	s := NewSorted(intCmp)
	s.Merge([]KeyedBucket{
		{Key: 0, Bucket: bucket(1, 5)},
		{Key: 1, Bucket: bucket(2, 3)},
	})

	// Upstream 1 drains after 3; the merge cannot emit 5 yet because
	// upstream 1 might still deliver a 4.
	require.Equal(t, []int{1, 2, 3}, drainMerge(s))
	key, ok := s.ExhaustedKey()
	require.True(t, ok)
	require.Equal(t, 1, key)

	s.Merge([]KeyedBucket{{Key: 1, Bucket: bucket(4, 6), Final: true}})
	require.Equal(t, []int{4, 5}, drainMerge(s))

	// Upstream 0 is now the blocker.
	key, ok = s.ExhaustedKey()
	require.True(t, ok)
	require.Equal(t, 0, key)

	s.Merge([]KeyedBucket{{Key: 0, Bucket: rowstream.EmptyBucket, Final: true}})
	s.Finish()
	require.Equal(t, []int{6}, drainMerge(s))
}

func TestSortedMergeSkipsFinalUpstreams(t *testing.T) {
	s := NewSorted(intCmp)
	s.Merge([]KeyedBucket{
		{Key: 0, Bucket: bucket(1), Final: true},
		{Key: 1, Bucket: bucket(2, 3)},
	})

	// Upstream 0 is done; draining it must not block the merge.
	require.Equal(t, []int{1, 2, 3}, drainMerge(s))
	key, ok := s.ExhaustedKey()
	require.True(t, ok)
	require.Equal(t, 1, key)
}

func TestSortedMergeTieBreaksOnKey(t *testing.T) {
	s := NewSorted(intCmp)
	s.Merge([]KeyedBucket{
		{Key: 0, Bucket: bucket(1, 2), Final: true},
		{Key: 1, Bucket: bucket(1, 2), Final: true},
	})
	s.Finish()

	var got []rowstream.Row
	for {
		row, ok := s.Next()
		if !ok {
			break
		}
		got = append(got, row)
	}
	require.Len(t, got, 4)
	// Equal rows come out in ascending upstream order.
	require.Equal(t, []int{1, 1, 2, 2}, []int{
		got[0][0].(int), got[1][0].(int), got[2][0].(int), got[3][0].(int),
	})
}

func TestRepeatUnsupportedByDefault(t *testing.T) {
	_, err := NewPassThrough().Repeat()
	require.ErrorIs(t, err, ErrRepeatUnsupported)
	_, err = NewSorted(intCmp).Repeat()
	require.ErrorIs(t, err, ErrRepeatUnsupported)
}

func TestRecordingRepeat(t *testing.T) {
	r := NewRecording(NewPassThrough())
	r.Merge([]KeyedBucket{{Key: 0, Bucket: bucket(1, 2), Final: true}})
	require.Equal(t, []int{1, 2}, drainMerge(r))

	rows, err := r.Repeat()
	require.NoError(t, err)
	require.Equal(t, []rowstream.Row{{1}, {2}}, rows)

	// The recording keeps growing across pages.
	r.Merge([]KeyedBucket{{Key: 0, Bucket: bucket(3), Final: true}})
	require.Equal(t, []int{3}, drainMerge(r))
	rows, err = r.Repeat()
	require.NoError(t, err)
	require.Len(t, rows, 3)
}
