// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package jobs

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"go.uber.org/atomic"

	"github.com/quarrydb/quarry/pkg/sql/execphase"
	"github.com/quarrydb/quarry/pkg/sql/pagemerge"
	"github.com/quarrydb/quarry/pkg/sql/rowstream"
	"github.com/quarrydb/quarry/pkg/util/executor"
	"github.com/quarrydb/quarry/pkg/util/future"
	"github.com/quarrydb/quarry/pkg/util/log"
	"github.com/quarrydb/quarry/pkg/util/syncutil"
)

// CumulativePageBucketReceiver merges N independent push streams into one
// pull stream. It waits until every upstream delivered its bucket for the
// current page, hands the page to the paging iterator, and signals each
// upstream's listener when the downstream wants more. The first page is
// pushed before anyone pulls; after that the receiver operates in pull
// mode.
//
// Two locks are used, and when both are needed bucketsMu is taken first:
//
//   - bucketsMu guards upstream membership, the backpressure listeners,
//     and the terminal error.
//   - mu guards the per-page state: the current page's buckets and the set
//     of exhausted upstreams.
//
// Listener callbacks are never invoked under either lock: they are
// snapshotted under bucketsMu and called after release, so a listener may
// re-enter the receiver.
type CumulativePageBucketReceiver struct {
	ctx        context.Context
	nodeName   string
	phaseID    int
	exec       executor.Executor
	streamers  []execphase.Streamer
	numBuckets int

	batchIterator rowstream.BatchIterator
	processing    *future.Future[struct{}]
	currentPage   atomic.Pointer[future.Future[[]pagemerge.KeyedBucket]]
	// firstFetchMore models the push→pull transition: true until the
	// downstream first requests more data.
	firstFetchMore atomic.Bool

	bucketsMu struct {
		syncutil.Mutex
		buckets   map[int]struct{}
		listeners map[int]PageResultListener
		lastErr   error
	}

	mu struct {
		syncutil.Mutex
		bucketsByIdx map[int]rowstream.Bucket
		exhausted    map[int]struct{}
	}
}

var _ PageBucketReceiver = (*CumulativePageBucketReceiver)(nil)

// NewCumulativePageBucketReceiver builds a receiver for numBuckets
// upstreams and immediately hands the downstream-facing batch iterator to
// the consumer. With zero upstreams the consumer receives an empty
// iterator and the receiver completes as soon as the consumer closes it.
func NewCumulativePageBucketReceiver(
	ctx context.Context,
	nodeName string,
	phaseID int,
	exec executor.Executor,
	streamers []execphase.Streamer,
	consumer rowstream.RowConsumer,
	pagingIt pagemerge.PagingIterator,
	numBuckets int,
) *CumulativePageBucketReceiver {
	ctx = logtags.AddTag(ctx, "n", nodeName)
	ctx = logtags.AddTag(ctx, "phase", phaseID)

	r := &CumulativePageBucketReceiver{
		ctx:        ctx,
		nodeName:   nodeName,
		phaseID:    phaseID,
		exec:       exec,
		streamers:  streamers,
		numBuckets: numBuckets,
		processing: future.New[struct{}](),
	}
	r.firstFetchMore.Store(true)
	r.currentPage.Store(future.New[[]pagemerge.KeyedBucket]())
	r.bucketsMu.buckets = make(map[int]struct{}, numBuckets)
	r.bucketsMu.listeners = make(map[int]PageResultListener, numBuckets)
	r.mu.bucketsByIdx = make(map[int]rowstream.Bucket, numBuckets)
	r.mu.exhausted = make(map[int]struct{}, numBuckets)

	// However the stream terminates, no upstream may be left waiting for a
	// backpressure signal.
	r.processing.WhenComplete(func(struct{}, error) {
		r.releaseListeners()
	})

	if numBuckets == 0 {
		r.batchIterator = rowstream.NewListenableIterator(rowstream.EmptyIterator(), r.processing)
	} else {
		r.batchIterator = pagemerge.NewBatchPagingIterator(
			pagingIt,
			r.fetchMore,
			r.allUpstreamsExhausted,
			func(err error) {
				if err != nil {
					r.processing.Fail(err)
				} else {
					r.processing.Complete(struct{}{})
				}
			},
		)
	}
	consumer.Accept(r.batchIterator, nil)
	return r
}

// SetBucket is part of the PageBucketReceiver interface. It is called from
// network-IO goroutines and never blocks on IO; when the bucket completes
// the current page, the page is handed to the merge on the receiver's
// executor (inline if the executor rejects).
func (r *CumulativePageBucketReceiver) SetBucket(
	bucketIdx int, rows rowstream.Bucket, isLast bool, listener PageResultListener,
) {
	var released PageResultListener
	r.bucketsMu.Lock()
	r.bucketsMu.buckets[bucketIdx] = struct{}{}
	if !isLast && r.bucketsMu.lastErr == nil {
		r.bucketsMu.listeners[bucketIdx] = listener
	} else {
		// Final bucket, or the stream is already terminal: this upstream
		// must not send more pages.
		released = listener
	}
	r.bucketsMu.Unlock()
	if released != nil {
		released.NeedMore(false)
	}

	var dupErr error
	var pageFull bool
	r.mu.Lock()
	if log.V(2) {
		log.VEventf(r.ctx, 2, "method=setBucket bucket=%d isLast=%t", bucketIdx, isLast)
	}
	if _, ok := r.mu.bucketsByIdx[bucketIdx]; ok {
		dupErr = errors.Wrapf(ErrDuplicateBucket,
			"node=%s method=setBucket phaseId=%d bucket=%d",
			r.nodeName, r.phaseID, bucketIdx)
	} else {
		r.mu.bucketsByIdx[bucketIdx] = rows
	}
	if isLast {
		r.mu.exhausted[bucketIdx] = struct{}{}
	}
	pageFull = len(r.mu.bucketsByIdx) == r.numBuckets
	r.mu.Unlock()

	if dupErr != nil {
		// Completing under mu would invert the bucketsMu→mu lock order in
		// the processing future's listener-cleanup callback.
		r.processing.Fail(dupErr)
	}
	if pageFull {
		page := r.snapshotPage()
		fut := r.currentPage.Load()
		if err := r.exec.Execute(func() { fut.Complete(page) }); err != nil {
			// Forward progress outweighs strict off-thread completion.
			fut.Complete(page)
		}
	}
}

// snapshotPage collects the completed page in upstream-index order. Entries
// of exhausted upstreams are replaced with the empty sentinel so the
// page-completion predicate keeps firing for them; live entries are removed
// and must be refilled by the next page.
func (r *CumulativePageBucketReceiver) snapshotPage() []pagemerge.KeyedBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]int, 0, len(r.mu.bucketsByIdx))
	for idx := range r.mu.bucketsByIdx {
		keys = append(keys, idx)
	}
	sort.Ints(keys)
	page := make([]pagemerge.KeyedBucket, 0, len(keys))
	for _, idx := range keys {
		_, done := r.mu.exhausted[idx]
		page = append(page, pagemerge.KeyedBucket{
			Key:    idx,
			Bucket: r.mu.bucketsByIdx[idx],
			Final:  done,
		})
		if done {
			r.mu.bucketsByIdx[idx] = rowstream.EmptyBucket
		} else {
			delete(r.mu.bucketsByIdx, idx)
		}
	}
	return page
}

// fetchMore is the pull side of the receiver, driven by the batch paging
// iterator when the merge ran out of rows.
func (r *CumulativePageBucketReceiver) fetchMore(
	exhausted *int,
) *future.Future[[]pagemerge.KeyedBucket] {
	// The first page was pushed without the merge requesting any data; the
	// first pull just picks up that page.
	if r.firstFetchMore.CompareAndSwap(true, false) {
		return r.currentPage.Load()
	}
	next := future.New[[]pagemerge.KeyedBucket]()
	r.currentPage.Store(next)
	if exhausted == nil || r.isExhausted(*exhausted) {
		r.fetchFromUnexhausted()
	} else {
		r.fetchExhausted(*exhausted)
	}
	return next
}

func (r *CumulativePageBucketReceiver) isExhausted(bucketIdx int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.mu.exhausted[bucketIdx]
	return ok
}

// fetchExhausted refills a single upstream. Every other known upstream is
// pre-filled with the empty sentinel so the one refilled bucket completes
// the page predicate on arrival.
func (r *CumulativePageBucketReceiver) fetchExhausted(bucketIdx int) {
	r.bucketsMu.Lock()
	listener := r.bucketsMu.listeners[bucketIdx]
	delete(r.bucketsMu.listeners, bucketIdx)
	r.mu.Lock()
	for idx := range r.bucketsMu.buckets {
		if idx == bucketIdx {
			continue
		}
		if _, ok := r.mu.bucketsByIdx[idx]; !ok {
			r.mu.bucketsByIdx[idx] = rowstream.EmptyBucket
		}
	}
	r.mu.Unlock()
	r.bucketsMu.Unlock()
	if listener != nil {
		listener.NeedMore(true)
	}
}

// fetchFromUnexhausted asks every upstream that can still deliver data for
// its next page.
func (r *CumulativePageBucketReceiver) fetchFromUnexhausted() {
	r.bucketsMu.Lock()
	listeners := make([]PageResultListener, 0, len(r.bucketsMu.listeners))
	for _, l := range r.bucketsMu.listeners {
		listeners = append(listeners, l)
	}
	for idx := range r.bucketsMu.listeners {
		delete(r.bucketsMu.listeners, idx)
	}
	r.bucketsMu.Unlock()
	for _, l := range listeners {
		l.NeedMore(true)
	}
}

// allUpstreamsExhausted reports stream completion. The first-page gate
// prevents reporting "done" before the downstream observed page one.
func (r *CumulativePageBucketReceiver) allUpstreamsExhausted() bool {
	r.mu.Lock()
	n := len(r.mu.exhausted)
	r.mu.Unlock()
	return n == r.numBuckets && !r.firstFetchMore.Load()
}

func (r *CumulativePageBucketReceiver) releaseListeners() {
	r.bucketsMu.Lock()
	listeners := make([]PageResultListener, 0, len(r.bucketsMu.listeners))
	for _, l := range r.bucketsMu.listeners {
		listeners = append(listeners, l)
	}
	for idx := range r.bucketsMu.listeners {
		delete(r.bucketsMu.listeners, idx)
	}
	r.bucketsMu.Unlock()
	for _, l := range listeners {
		l.NeedMore(false)
	}
}

// Streamers is part of the PageBucketReceiver interface.
func (r *CumulativePageBucketReceiver) Streamers() []execphase.Streamer {
	return r.streamers
}

// CompletionFuture is part of the PageBucketReceiver interface.
func (r *CumulativePageBucketReceiver) CompletionFuture() *future.Future[struct{}] {
	return r.processing
}

// ConsumeRows is part of the PageBucketReceiver interface.
func (r *CumulativePageBucketReceiver) ConsumeRows() {
}

// Kill is part of the PageBucketReceiver interface. Buckets that arrive
// after the kill are still recorded, but their listeners are immediately
// told not to send more.
func (r *CumulativePageBucketReceiver) Kill(err error) {
	r.bucketsMu.Lock()
	if r.bucketsMu.lastErr == nil {
		r.bucketsMu.lastErr = err
	}
	r.bucketsMu.Unlock()
	r.batchIterator.Kill(err)
	r.batchIterator.Close()
	// Unblock a downstream parked on fetchMore.
	r.currentPage.Load().Fail(err)
}
