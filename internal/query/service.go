// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

// Package query is the read side of the cache: exact filtering against
// the relational store and similarity search against the vector index.
// Nothing here touches the network except the embedding call behind
// similarity search.
package query

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/ledgercache-dev/ledgercache/internal/embed"
	"github.com/ledgercache-dev/ledgercache/internal/store"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

const defaultK = 10

// RankedRecord is a full record with its similarity score.
type RankedRecord struct {
	Record *store.Record `json:"record"`
	Score  float64       `json:"score"`
}

// SimilarResult is a ranked similarity result set. Reason explains an
// empty set, e.g. nothing has been synced yet.
type SimilarResult struct {
	Results []RankedRecord `json:"results"`
	Reason  string         `json:"reason,omitempty"`
}

// Stats summarises the cache contents.
type Stats struct {
	RecordCount    int                  `json:"record_count"`
	EmbeddingCount int                  `json:"embedding_count"`
	ByView         []store.ViewCount    `json:"by_view,omitempty"`
	Earliest       time.Time            `json:"earliest,omitempty"`
	Latest         time.Time            `json:"latest,omitempty"`
	LastSyncTimes  map[string]time.Time `json:"last_sync_times,omitempty"`
	RecordDBBytes  int64                `json:"record_db_bytes,omitempty"`
	VectorDBBytes  int64                `json:"vector_db_bytes,omitempty"`
}

// fileSizer is implemented by disk-backed stores that know their file.
type fileSizer interface {
	FileSize() int64
}

// Service answers read queries over the local stores.
type Service struct {
	records  store.RecordStore
	vectors  store.VectorIndex
	cursors  store.CursorStore
	embedder embed.Embedder
	log      *slog.Logger

	clearMu gosync.Mutex
}

// NewService wires the query layer from its stores and the embedder.
func NewService(records store.RecordStore, vectors store.VectorIndex, cursors store.CursorStore,
	embedder embed.Embedder, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		records:  records,
		vectors:  vectors,
		cursors:  cursors,
		embedder: embedder,
		log:      log,
	}
}

// Exact runs a filter query against the relational store. Purely local.
func (s *Service) Exact(ctx context.Context, q store.RecordQuery) (*store.RecordPage, error) {
	return s.records.Query(ctx, q)
}

// Similar embeds the text and returns the k most similar records,
// enriched from the relational store in ranking order.
func (s *Service) Similar(ctx context.Context, text string, k int, filters map[string]any) (*SimilarResult, error) {
	if text == "" {
		return nil, lcerr.New(lcerr.CodeStoreInvalidInput, "similarity query text is empty")
	}
	if k <= 0 {
		k = defaultK
	}

	indexed, err := s.vectors.Count(ctx)
	if err != nil {
		return nil, err
	}
	if indexed == 0 {
		return &SimilarResult{
			Reason: "no records have been synced yet; run sync before searching",
		}, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	hits, err := s.vectors.Search(ctx, vecs[0], k, filters)
	if err != nil {
		return nil, err
	}

	return s.enrich(ctx, hits, "")
}

// SimilarTo returns the k records most similar to an already-indexed
// record, reusing its stored vector rather than re-embedding.
func (s *Service) SimilarTo(ctx context.Context, token string, k int, filters map[string]any) (*SimilarResult, error) {
	if k <= 0 {
		k = defaultK
	}

	vec, err := s.vectors.GetVector(ctx, token)
	if err != nil {
		if lcerr.IsNotFound(err) {
			return nil, lcerr.Wrap(err, lcerr.CodeStoreRecordNotFound,
				"record is not in the vector index; sync it first", lcerr.FieldToken(token))
		}
		return nil, err
	}

	// Fetch one extra: the reference record matches itself perfectly.
	hits, err := s.vectors.Search(ctx, vec, k+1, filters)
	if err != nil {
		return nil, err
	}

	res, err := s.enrich(ctx, hits, token)
	if err != nil {
		return nil, err
	}
	if len(res.Results) > k {
		res.Results = res.Results[:k]
	}
	return res, nil
}

// enrich resolves vector hits to full records, preserving similarity
// order. A hit with no backing record is a consistency violation: it is
// logged and dropped, never fatal.
func (s *Service) enrich(ctx context.Context, hits []store.VectorResult, exclude string) (*SimilarResult, error) {
	tokens := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Token == exclude {
			continue
		}
		tokens = append(tokens, h.Token)
	}

	recs, err := s.records.GetByTokens(ctx, tokens)
	if err != nil {
		return nil, err
	}

	out := &SimilarResult{}
	for _, h := range hits {
		if h.Token == exclude {
			continue
		}
		rec, ok := recs[h.Token]
		if !ok {
			s.log.Warn("consistency violation: vector hit has no backing record, dropping",
				"token", h.Token, "remedy", "re-sync the affected window")
			continue
		}
		out.Results = append(out.Results, RankedRecord{Record: rec, Score: h.Score})
	}
	if len(out.Results) == 0 {
		out.Reason = "no matching records found; try syncing more data first"
	}
	return out, nil
}

// Stats reports record and embedding counts plus per-view sync times.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	recStats, err := s.records.Stats(ctx)
	if err != nil {
		return nil, err
	}
	embeddings, err := s.vectors.Count(ctx)
	if err != nil {
		return nil, err
	}

	out := &Stats{
		RecordCount:    recStats.Total,
		EmbeddingCount: embeddings,
		ByView:         recStats.ByView,
		Earliest:       recStats.Earliest,
		Latest:         recStats.Latest,
		LastSyncTimes:  recStats.LastSync,
	}
	if fs, ok := s.records.(fileSizer); ok {
		out.RecordDBBytes = fs.FileSize()
	}
	if fs, ok := s.vectors.(fileSizer); ok {
		out.VectorDBBytes = fs.FileSize()
	}
	return out, nil
}

// Clear wipes records, vectors, and sync cursors together. Every store
// is attempted even when an earlier one fails, so a partial failure
// cannot strand one side silently.
func (s *Service) Clear(ctx context.Context) error {
	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	errs := []error{
		s.records.DeleteAll(ctx),
		s.vectors.DeleteAll(ctx),
		s.cursors.DeleteAll(ctx),
	}
	return lcerr.Join(errs...)
}
