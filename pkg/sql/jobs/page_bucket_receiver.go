// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package jobs

import (
	"github.com/cockroachdb/errors"

	"github.com/quarrydb/quarry/pkg/sql/execphase"
	"github.com/quarrydb/quarry/pkg/sql/rowstream"
	"github.com/quarrydb/quarry/pkg/util/future"
)

// ErrDuplicateBucket marks the protocol violation of an upstream sending
// the same bucket index twice within one page.
var ErrDuplicateBucket = errors.New("same bucket of a page set more than once")

// PageResultListener is the backpressure channel back to one upstream.
type PageResultListener interface {
	// NeedMore(true) asks the upstream to send its next page; NeedMore(false)
	// permanently releases it. Exactly one NeedMore(false) is delivered per
	// listener over the stream's lifetime.
	NeedMore(more bool)
}

// PageBucketReceiver accepts buckets pushed by upstreams and exposes the
// merged result downstream.
type PageBucketReceiver interface {
	// SetBucket delivers one upstream's bucket for the current page. isLast
	// marks the upstream's final bucket. The listener is retained until the
	// downstream requests more data, unless the upstream is done.
	SetBucket(bucketIdx int, rows rowstream.Bucket, isLast bool, listener PageResultListener)

	// Streamers returns the wire encoders attached to this phase's output.
	Streamers() []execphase.Streamer

	// CompletionFuture resolves when the phase is terminal.
	CompletionFuture() *future.Future[struct{}]

	// ConsumeRows is currently a no-op; retained for interface symmetry
	// with receivers that buffer rows until explicitly consumed.
	ConsumeRows()

	// Kill terminates the stream with the given cause.
	Kill(err error)
}
