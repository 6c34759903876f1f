// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ledgercache-dev/ledgercache/internal/query"
	"github.com/ledgercache-dev/ledgercache/internal/server"
	"github.com/ledgercache-dev/ledgercache/internal/store"
	syncpkg "github.com/ledgercache-dev/ledgercache/internal/sync"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts
// the OpenAPI spec that huma generates from the Go type annotations.
func generateSpec() ([]byte, error) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, lcerr.Wrapf(err, lcerr.CodeCLISetupFailure, "creating server")
	}

	// No-op stubs so all routes register; handlers are never invoked
	// during spec generation.
	srv.RegisterServices(&server.Services{Sync: specSyncer{}, Query: specQuerier{}})

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

type specSyncer struct{}

func (specSyncer) Sync(context.Context, syncpkg.Query, syncpkg.Options) (*syncpkg.Report, error) {
	return nil, nil
}

type specQuerier struct{}

func (specQuerier) Exact(context.Context, store.RecordQuery) (*store.RecordPage, error) {
	return nil, nil
}

func (specQuerier) Similar(context.Context, string, int, map[string]any) (*query.SimilarResult, error) {
	return nil, nil
}

func (specQuerier) SimilarTo(context.Context, string, int, map[string]any) (*query.SimilarResult, error) {
	return nil, nil
}

func (specQuerier) Stats(context.Context) (*query.Stats, error) { return nil, nil }

func (specQuerier) Clear(context.Context) error { return nil }
