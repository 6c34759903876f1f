// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package sync

import (
	gosync "sync"
	"time"

	"github.com/ledgercache-dev/ledgercache/internal/store"
)

// chunkQueue is the work queue behind the chunk planner. Workers pull
// spans; a worker that finds a span at the hard cap pushes its two
// halves back instead of committing, so planning and fetching
// interleave. The queue drains when no items remain and no worker is
// still processing one.
type chunkQueue struct {
	mu      gosync.Mutex
	cond    *gosync.Cond
	items   []store.ChunkSpan
	active  int
	stopped bool
}

func newChunkQueue(initial ...store.ChunkSpan) *chunkQueue {
	q := &chunkQueue{items: initial}
	q.cond = gosync.NewCond(&q.mu)
	return q
}

// push adds spans to the queue. Safe to call from workers mid-chunk.
func (q *chunkQueue) push(spans ...store.ChunkSpan) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, spans...)
	q.cond.Broadcast()
}

// next blocks until a span is available or the queue is exhausted or
// stopped. The caller must pair a true return with a later done().
func (q *chunkQueue) next() (store.ChunkSpan, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && q.active > 0 && !q.stopped {
		q.cond.Wait()
	}
	if q.stopped || len(q.items) == 0 {
		return store.ChunkSpan{}, false
	}

	span := q.items[0]
	q.items = q.items[1:]
	q.active++
	return span, true
}

// done marks one pulled span as fully processed.
func (q *chunkQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	q.cond.Broadcast()
}

// stop drains the queue early; blocked workers wake up and exit.
func (q *chunkQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.cond.Broadcast()
}

// bisect splits a span at its midpoint. The halves share the midpoint
// boundary, keeping the union exactly the original window.
func bisect(span store.ChunkSpan) (store.ChunkSpan, store.ChunkSpan) {
	mid := span.Start.Add(span.End.Sub(span.Start) / 2)
	return store.ChunkSpan{Start: span.Start, End: mid},
		store.ChunkSpan{Start: mid, End: span.End}
}

// canBisect reports whether a span is still wider than the minimum
// granularity. A span at or below it is accepted as exhaustive even when
// the fetch came back at the hard cap; bisection always terminates here.
func canBisect(span store.ChunkSpan, minSpan time.Duration) bool {
	if span.Start.IsZero() || span.End.IsZero() {
		return false
	}
	return span.End.Sub(span.Start) > minSpan
}
