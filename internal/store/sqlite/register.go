// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package sqlite

import (
	"os"
	"path/filepath"

	"github.com/ledgercache-dev/ledgercache/internal/store"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", openBackend)
}

// openBackend creates the sqlite-backed stores under dataDir. Records and
// sync cursors share one database file; embeddings live in their own.
func openBackend(dataDir string, vectorDims int) (store.RecordStore, store.VectorIndex, store.CursorStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "creating data directory: %w", err)
	}

	records, err := NewRecordStore(filepath.Join(dataDir, "ledger.db"))
	if err != nil {
		return nil, nil, nil, err
	}

	cursors, err := NewCursorStoreWithDB(records.db)
	if err != nil {
		_ = records.Close()
		return nil, nil, nil, err
	}

	vectors, err := NewVectorIndex(filepath.Join(dataDir, "vectors.db"), vectorDims)
	if err != nil {
		_ = records.Close()
		return nil, nil, nil, err
	}

	return records, vectors, cursors, nil
}
