// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package sync

import (
	"context"
	"log/slog"
	"net/url"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgercache-dev/ledgercache/internal/embed"
	"github.com/ledgercache-dev/ledgercache/internal/store"
	"github.com/ledgercache-dev/ledgercache/internal/upstream"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
	"github.com/ledgercache-dev/ledgercache/pkg/types"
)

// Fetcher pulls one page of records from the upstream; satisfied by
// *upstream.Client.
type Fetcher interface {
	GetView(ctx context.Context, view, aggregation string, params url.Values) (*upstream.Page, error)
}

// Validator checks field and filter names before a fetch goes out;
// satisfied by *upstream.SchemaGuard.
type Validator interface {
	Validate(ctx context.Context, view, aggregation string, fields, filterKeys []string, withDateRange bool) error
}

// Options tunes one sync run. Zero values fall back to defaults.
type Options struct {
	// MaxRecords stops planning once the cumulative committed count
	// reaches it; checked between chunks, never mid-chunk.
	MaxRecords int

	// Timeout bounds the whole run. On expiry the run reports TimedOut
	// and committed chunks stay committed.
	Timeout time.Duration

	// AbandonInFlight cancels in-flight fetches at the timeout instead
	// of letting them finish.
	AbandonInFlight bool

	Workers int           // concurrent chunk fetches, default 4
	MinSpan time.Duration // bisection floor, default 24h
	HardCap int           // upstream per-call cap, default upstream.HardCap
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MinSpan <= 0 {
		o.MinSpan = 24 * time.Hour
	}
	if o.HardCap <= 0 {
		o.HardCap = upstream.HardCap
	}
	return o
}

// Orchestrator runs sync: it plans chunks, fetches them through the
// rate-limited client, and commits paired record and embedding writes.
// It is the sole writer to both stores; QueryLayer reads concurrently.
type Orchestrator struct {
	fetcher  Fetcher
	guard    Validator
	embedder embed.Embedder
	records  store.RecordStore
	vectors  store.VectorIndex
	cursors  store.CursorStore
	log      *slog.Logger

	// commitMu makes the record write and its paired embedding write one
	// unit from a reader's perspective.
	commitMu gosync.Mutex
}

// NewOrchestrator wires a sync orchestrator from its collaborators.
func NewOrchestrator(fetcher Fetcher, guard Validator, embedder embed.Embedder,
	records store.RecordStore, vectors store.VectorIndex, cursors store.CursorStore,
	log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		fetcher:  fetcher,
		guard:    guard,
		embedder: embedder,
		records:  records,
		vectors:  vectors,
		cursors:  cursors,
		log:      log,
	}
}

// run carries the shared mutable state of one sync run.
type run struct {
	mu                gosync.Mutex
	seen              map[string]bool
	committed         int
	skipped           int
	skippedChunks     int
	failed            []store.ChunkSpan
	errs              []string
	possiblyTruncated bool
	spans             []store.ChunkSpan
}

// Sync runs the query to completion (or timeout) and reports what
// happened. Validation errors surface immediately; chunk failures are
// isolated and enumerated in the report instead of aborting the run.
func (o *Orchestrator) Sync(ctx context.Context, q Query, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	started := time.Now()

	if q.View == "" {
		return nil, lcerr.New(lcerr.CodeSyncInvalidInput, "sync query missing view")
	}
	agg, err := types.ParseAggregation(q.Aggregation)
	if err != nil {
		return nil, err
	}
	q.Aggregation = agg.String()
	if q.Start.IsZero() != q.End.IsZero() {
		return nil, lcerr.New(lcerr.CodeSyncInvalidInput, "start and end must be set together")
	}
	if !q.Start.IsZero() && q.DateField == "" {
		return nil, lcerr.New(lcerr.CodeSyncInvalidInput,
			"start/end require date_field, e.g. transaction_timestamp")
	}
	if !q.Start.IsZero() && !q.End.After(q.Start) {
		return nil, lcerr.New(lcerr.CodeSyncInvalidInput, "end must be after start")
	}
	if err := o.guard.Validate(ctx, q.View, q.Aggregation, q.Fields, q.FilterKeys(), q.HasDateRange()); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	sig := q.Signature()
	cursor := o.loadCursor(ctx, sig, q)
	o.log.Info("sync run starting", "run_id", runID, "view", q.View,
		"aggregation", q.Aggregation, "signature", sig)

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	// Unless configured to abandon them, in-flight fetches get a context
	// that survives the run deadline; workers stop pulling new chunks
	// once runCtx is done.
	fetchCtx := runCtx
	if !opts.AbandonInFlight {
		fetchCtx = context.WithoutCancel(runCtx)
	}

	var initial store.ChunkSpan
	if q.HasDateRange() {
		initial = store.ChunkSpan{Start: q.Start, End: q.End}
	}
	queue := newChunkQueue(initial)

	st := &run{seen: map[string]bool{}}

	var wg gosync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(runCtx, fetchCtx, queue, q, opts, cursor, st)
		}()
	}
	wg.Wait()

	report := &Report{
		RunID:             runID,
		Signature:         sig,
		Committed:         st.committed,
		Skipped:           st.skipped,
		SkippedChunks:     st.skippedChunks,
		FailedChunks:      st.failed,
		Errors:            st.errs,
		PossiblyTruncated: st.possiblyTruncated,
		Truncated:         opts.MaxRecords > 0 && st.committed >= opts.MaxRecords,
		Duration:          time.Since(started),
	}

	switch {
	case runCtx.Err() != nil && ctx.Err() == nil:
		report.Status = StatusTimedOut
	case len(st.failed) > 0 && st.committed == 0 && st.skippedChunks == 0:
		report.Status = StatusFailed
	case len(st.failed) > 0:
		report.Status = StatusPartial
	default:
		report.Status = StatusCompleted
	}

	o.saveCursor(ctx, sig, q, cursor, st, report)
	o.log.Info("sync run finished", "run_id", runID, "status", report.Status,
		"committed", report.Committed, "duration", report.Duration)
	return report, nil
}

func (o *Orchestrator) worker(runCtx, fetchCtx context.Context, queue *chunkQueue, q Query, opts Options, cursor *store.SyncCursor, st *run) {
	for {
		if runCtx.Err() != nil {
			queue.stop()
			return
		}
		if opts.MaxRecords > 0 {
			st.mu.Lock()
			reached := st.committed >= opts.MaxRecords
			st.mu.Unlock()
			if reached {
				queue.stop()
				return
			}
		}

		span, ok := queue.next()
		if !ok {
			return
		}
		o.processChunk(fetchCtx, queue, q, opts, cursor, st, span)
		queue.done()
	}
}

func (o *Orchestrator) processChunk(ctx context.Context, queue *chunkQueue, q Query, opts Options, cursor *store.SyncCursor, st *run, span store.ChunkSpan) {
	if cursor != nil && !span.Start.IsZero() && cursor.Covers(span) {
		o.log.Debug("skipping chunk committed by a previous run",
			"view", q.View, "start", span.Start, "end", span.End)
		st.mu.Lock()
		st.skippedChunks++
		st.spans = append(st.spans, span)
		st.mu.Unlock()
		return
	}

	page, err := o.fetcher.GetView(ctx, q.View, q.Aggregation, q.params(span, opts.HardCap))
	if err != nil {
		o.failChunk(st, span, lcerr.Wrap(err, lcerr.CodeSyncChunkFailure, "fetching chunk"))
		return
	}

	atCap := len(page.Records) >= opts.HardCap || (page.IsMore && page.Count >= opts.HardCap)
	if atCap && canBisect(span, opts.MinSpan) {
		// The cap means more records may exist beyond this response and
		// there is no offset to page further; halve the window instead.
		left, right := bisect(span)
		o.log.Debug("chunk at hard cap, bisecting",
			"view", q.View, "start", span.Start, "end", span.End)
		queue.push(left, right)
		return
	}
	if atCap {
		// Finest granularity still at the cap: accept what came back and
		// surface the gap instead of hiding it.
		o.log.Warn("minimum-span chunk still at hard cap, results may be incomplete",
			"view", q.View, "start", span.Start, "end", span.End)
		st.mu.Lock()
		st.possiblyTruncated = true
		st.mu.Unlock()
	}

	fresh := o.dedup(st, page.Records)
	if len(fresh) == 0 {
		st.mu.Lock()
		st.spans = append(st.spans, span)
		st.mu.Unlock()
		return
	}

	n, err := o.commitChunk(ctx, q, fresh)
	if err != nil {
		o.log.Warn("chunk commit failed, retrying once", "view", q.View, "error", err)
		n, err = o.commitChunk(ctx, q, fresh)
	}
	if err != nil {
		o.failChunk(st, span, lcerr.Wrap(err, lcerr.CodeSyncChunkFailure, "committing chunk"))
		return
	}

	st.mu.Lock()
	st.committed += n
	st.spans = append(st.spans, span)
	st.mu.Unlock()
}

// dedup filters out records whose token was already handled in this run.
func (o *Orchestrator) dedup(st *run, raws []map[string]any) []map[string]any {
	st.mu.Lock()
	defer st.mu.Unlock()

	fresh := make([]map[string]any, 0, len(raws))
	for _, raw := range raws {
		token := rawString(raw, "transaction_token", "token")
		if token == "" {
			st.skipped++
			continue
		}
		if st.seen[token] {
			st.skipped++
			continue
		}
		st.seen[token] = true
		fresh = append(fresh, raw)
	}
	return fresh
}

// commitChunk performs the paired upsert for one chunk: records first
// with their embedded flag cleared, then the vectors, then the flag. A
// failure between the two phases leaves flagged-unembedded rows that the
// next sync repairs.
func (o *Orchestrator) commitChunk(ctx context.Context, q Query, raws []map[string]any) (int, error) {
	now := time.Now().UTC()
	recs := make([]*store.Record, 0, len(raws))
	texts := make([]string, 0, len(raws))
	metas := make([]map[string]any, 0, len(raws))
	for _, raw := range raws {
		rec, ok := toRecord(raw, q.View, q.Aggregation, now)
		if !ok {
			continue
		}
		recs = append(recs, rec)
		texts = append(texts, embed.RecordText(raw))
		metas = append(metas, embed.MetadataProjection(raw))
	}
	if len(recs) == 0 {
		return 0, nil
	}

	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(recs) {
		return 0, lcerr.Errorf(lcerr.CodeEmbedFailure,
			"embedder returned %d vectors for %d records", len(vectors), len(recs))
	}

	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	n, err := o.records.Upsert(ctx, recs)
	if err != nil {
		return 0, err
	}

	tokens := make([]string, 0, len(recs))
	for i, rec := range recs {
		if err := o.vectors.Upsert(ctx, rec.Token, vectors[i], metas[i]); err != nil {
			// Rows already written stay; their cleared embedded flag
			// records the orphan for the next run.
			if markErr := o.records.MarkEmbedded(ctx, tokens); markErr != nil {
				err = lcerr.Join(err, markErr)
			}
			return 0, err
		}
		tokens = append(tokens, rec.Token)
	}

	if err := o.records.MarkEmbedded(ctx, tokens); err != nil {
		return 0, err
	}
	return n, nil
}

func (o *Orchestrator) failChunk(st *run, span store.ChunkSpan, err error) {
	o.log.Error("chunk failed", "start", span.Start, "end", span.End, "error", err)
	st.mu.Lock()
	st.failed = append(st.failed, span)
	st.errs = append(st.errs, err.Error())
	st.mu.Unlock()
}

// loadCursor fetches the cursor for a signature; a missing cursor is a
// fresh start, not an error.
func (o *Orchestrator) loadCursor(ctx context.Context, sig string, q Query) *store.SyncCursor {
	cur, err := o.cursors.Get(ctx, sig)
	if err != nil {
		if !lcerr.IsNotFound(err) {
			o.log.Warn("failed to load sync cursor, starting fresh", "signature", sig, "error", err)
		}
		return nil
	}
	o.log.Info("resuming from sync cursor",
		"signature", sig, "view", q.View, "committed_spans", len(cur.Spans))
	return cur
}

// saveCursor persists progress. A completed run clears the span list so
// the next identical sync re-fetches everything (idempotent refresh); an
// interrupted run keeps its spans so a re-run skips committed windows.
func (o *Orchestrator) saveCursor(ctx context.Context, sig string, q Query, prev *store.SyncCursor, st *run, report *Report) {
	cur := &store.SyncCursor{
		Signature:         sig,
		View:              q.View,
		Aggregation:       q.Aggregation,
		Committed:         st.committed,
		Truncated:         report.Truncated,
		PossiblyTruncated: report.PossiblyTruncated,
		UpdatedAt:         time.Now().UTC(),
	}
	if prev != nil {
		cur.Committed += prev.Committed
	}
	if report.Status != StatusCompleted {
		cur.Spans = st.spans
		if prev != nil {
			cur.Spans = append(cur.Spans, prev.Spans...)
		}
	}

	if err := o.cursors.Put(ctx, cur); err != nil {
		o.log.Warn("failed to persist sync cursor", "signature", sig, "error", err)
	}
}
