// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ledgercache-dev/ledgercache/internal/config"
	"github.com/ledgercache-dev/ledgercache/internal/embed"
	"github.com/ledgercache-dev/ledgercache/internal/query"
	"github.com/ledgercache-dev/ledgercache/internal/store"
	_ "github.com/ledgercache-dev/ledgercache/internal/store/sqlite" // register sqlite backend
	syncpkg "github.com/ledgercache-dev/ledgercache/internal/sync"
	"github.com/ledgercache-dev/ledgercache/internal/upstream"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Config       *config.Config
	Upstream     *upstream.Client
	Orchestrator *syncpkg.Orchestrator
	Query        *query.Service

	records store.RecordStore
	vectors store.VectorIndex
	cursors store.CursorStore
}

// wireApp creates all subsystems and wires them together.
func wireApp(cfg *config.Config, log *slog.Logger) (*App, error) {
	// 1. Stores.
	records, vectors, cursors, err := store.Open(&store.Config{
		Backend:          cfg.Storage.Backend,
		VectorDimensions: cfg.Embedding.Dimensions,
	}, cfg.Storage.Path)
	if err != nil {
		return nil, lcerr.Errorf(lcerr.CodeCLISetupFailure, "opening stores: %w", err)
	}

	closeStores := func() {
		_ = cursors.Close()
		_ = vectors.Close()
		_ = records.Close()
	}

	// 2. Upstream client behind the shared rate budget.
	limiter := upstream.NewLimiter(cfg.Upstream.Rate.MaxRequests, cfg.Upstream.Rate.Window)
	client := upstream.NewClient(upstream.ClientConfig{
		BaseURL:     cfg.Upstream.BaseURL,
		Program:     cfg.Upstream.Program,
		AppToken:    cfg.Upstream.AppToken,
		AccessToken: cfg.Upstream.AccessToken,
		Timeout:     cfg.Upstream.Timeout,
	}, limiter, log)

	guard := upstream.NewSchemaGuard(client, time.Hour)

	// 3. Embedder.
	embedder, err := embed.NewOpenAI(embed.Config{
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		closeStores()
		return nil, lcerr.Wrapf(err, lcerr.CodeCLISetupFailure, "creating embedder")
	}

	// 4. Sync and query services.
	orch := syncpkg.NewOrchestrator(client, guard, embedder, records, vectors, cursors, log)
	qsvc := query.NewService(records, vectors, cursors, embedder, log)

	return &App{
		Config:       cfg,
		Upstream:     client,
		Orchestrator: orch,
		Query:        qsvc,
		records:      records,
		vectors:      vectors,
		cursors:      cursors,
	}, nil
}

// syncOptions converts the sync tuning config into run options.
func (a *App) syncOptions() syncpkg.Options {
	return syncpkg.Options{
		Workers: a.Config.Sync.Workers,
		MinSpan: a.Config.Sync.MinSpan,
		HardCap: a.Config.Sync.HardCap,
	}
}

// Close releases all resources held by the app.
func (a *App) Close() error {
	var errs []error
	for _, c := range []interface{ Close() error }{a.cursors, a.vectors, a.records} {
		if c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
