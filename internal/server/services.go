// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package server

import (
	"context"

	"github.com/ledgercache-dev/ledgercache/internal/query"
	"github.com/ledgercache-dev/ledgercache/internal/store"
	syncpkg "github.com/ledgercache-dev/ledgercache/internal/sync"
)

// Syncer runs sync operations; satisfied by *sync.Orchestrator.
type Syncer interface {
	Sync(ctx context.Context, q syncpkg.Query, opts syncpkg.Options) (*syncpkg.Report, error)
}

// Querier answers local read queries; satisfied by *query.Service.
type Querier interface {
	Exact(ctx context.Context, q store.RecordQuery) (*store.RecordPage, error)
	Similar(ctx context.Context, text string, k int, filters map[string]any) (*query.SimilarResult, error)
	SimilarTo(ctx context.Context, token string, k int, filters map[string]any) (*query.SimilarResult, error)
	Stats(ctx context.Context) (*query.Stats, error)
	Clear(ctx context.Context) error
}

// Services bundles the dependencies the HTTP routes need.
type Services struct {
	Sync  Syncer
	Query Querier
}
