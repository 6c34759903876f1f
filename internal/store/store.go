// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package store

import "context"

// RecordStore is the durable, field-queryable store of complete records.
// All operations are local; none blocks on network I/O.
type RecordStore interface {
	// Upsert inserts or replaces records by token, returning the number
	// written. Newly written rows start with the embedded flag cleared;
	// MarkEmbedded completes the paired commit.
	Upsert(ctx context.Context, records []*Record) (int, error)

	// MarkEmbedded flags tokens whose embedding write succeeded.
	MarkEmbedded(ctx context.Context, tokens []string) error

	Query(ctx context.Context, q RecordQuery) (*RecordPage, error)
	GetByTokens(ctx context.Context, tokens []string) (map[string]*Record, error)
	Count(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*RecordStats, error)
	DeleteAll(ctx context.Context) error
	Close() error
}

// VectorIndex stores one embedding per record token plus a small metadata
// projection, and answers nearest-neighbour queries.
type VectorIndex interface {
	Upsert(ctx context.Context, token string, embedding []float32, metadata map[string]any) error
	Search(ctx context.Context, query []float32, k int, filters map[string]any) ([]VectorResult, error)
	GetVector(ctx context.Context, token string) ([]float32, error)
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
	Close() error
}

// CursorStore persists per-query sync progress.
type CursorStore interface {
	Get(ctx context.Context, signature string) (*SyncCursor, error)
	Put(ctx context.Context, cursor *SyncCursor) error
	DeleteAll(ctx context.Context) error
	Close() error
}
