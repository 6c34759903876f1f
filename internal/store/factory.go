// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package store

import (
	"fmt"
	"sync"
)

// defaultVectorDimensions matches OpenAI text-embedding-3-small.
const defaultVectorDimensions = 1536

// Config controls which backend the store factory uses.
type Config struct {
	Backend          string // "sqlite" is the only supported backend for now.
	VectorDimensions int    // Embedding dimensions; 0 uses the default (1536).
}

// Factory creates all stores given a data directory and vector dimensions.
type Factory func(dataDir string, vectorDims int) (RecordStore, VectorIndex, CursorStore, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Open creates all stores under dataDir using the configured backend.
func Open(cfg *Config, dataDir string) (RecordStore, VectorIndex, CursorStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, nil, nil, fmt.Errorf("unsupported storage backend: %q", backend)
	}

	dims := defaultVectorDimensions
	if cfg.VectorDimensions > 0 {
		dims = cfg.VectorDimensions
	}

	return factory(dataDir, dims)
}
