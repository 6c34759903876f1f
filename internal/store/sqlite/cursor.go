// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ledgercache-dev/ledgercache/internal/store"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

var _ store.CursorStore = (*CursorStore)(nil)

// CursorStore persists sync progress keyed by query signature so an
// interrupted sync can resume without refetching committed spans.
type CursorStore struct {
	db      *sql.DB
	ownConn bool
}

// NewCursorStore opens its own connection to dbPath.
func NewCursorStore(dbPath string) (*CursorStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	cs := &CursorStore{db: db, ownConn: true}
	if err := migrateCursors(db); err != nil {
		_ = db.Close()
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "migrating sync_cursors: %w", err)
	}
	return cs, nil
}

// NewCursorStoreWithDB shares an existing connection, typically the one
// backing the record store.
func NewCursorStoreWithDB(db *sql.DB) (*CursorStore, error) {
	if err := migrateCursors(db); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "migrating sync_cursors: %w", err)
	}
	return &CursorStore{db: db}, nil
}

func migrateCursors(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sync_cursors (
	signature          TEXT PRIMARY KEY,
	view_name          TEXT NOT NULL,
	aggregation        TEXT NOT NULL,
	committed          INTEGER NOT NULL DEFAULT 0,
	truncated          INTEGER NOT NULL DEFAULT 0,
	possibly_truncated INTEGER NOT NULL DEFAULT 0,
	spans              TEXT NOT NULL DEFAULT '[]',
	updated_at         TEXT NOT NULL
)`
	_, err := db.Exec(ddl)
	return err
}

// Get returns the cursor for a query signature, or a coded not-found
// error when no sync has run for it.
func (c *CursorStore) Get(ctx context.Context, signature string) (*store.SyncCursor, error) {
	const q = `SELECT signature, view_name, aggregation, committed, truncated, possibly_truncated, spans, updated_at
FROM sync_cursors WHERE signature = ?`

	var (
		cur       store.SyncCursor
		truncated int
		possibly  int
		spansStr  string
		updatedAt string
	)
	err := c.db.QueryRowContext(ctx, q, signature).Scan(
		&cur.Signature, &cur.View, &cur.Aggregation, &cur.Committed,
		&truncated, &possibly, &spansStr, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, lcerr.New(lcerr.CodeStoreRecordNotFound, "no sync cursor for signature "+signature,
				lcerr.FieldSignature(signature))
		}
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "reading sync cursor: %w", err)
	}

	cur.Truncated = truncated != 0
	cur.PossiblyTruncated = possibly != 0
	if err := json.Unmarshal([]byte(spansStr), &cur.Spans); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "unmarshalling cursor spans: %w", err)
	}
	cur.UpdatedAt = parseTime(updatedAt)

	return &cur, nil
}

// Put inserts or replaces the cursor for its signature.
func (c *CursorStore) Put(ctx context.Context, cur *store.SyncCursor) error {
	spans := cur.Spans
	if spans == nil {
		spans = []store.ChunkSpan{}
	}
	spansJSON, err := json.Marshal(spans)
	if err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "marshalling cursor spans: %w", err)
	}

	updatedAt := cur.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO sync_cursors(signature, view_name, aggregation, committed, truncated, possibly_truncated, spans, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(signature) DO UPDATE SET
	view_name          = excluded.view_name,
	aggregation        = excluded.aggregation,
	committed          = excluded.committed,
	truncated          = excluded.truncated,
	possibly_truncated = excluded.possibly_truncated,
	spans              = excluded.spans,
	updated_at         = excluded.updated_at`

	_, err = c.db.ExecContext(ctx, q,
		cur.Signature, cur.View, cur.Aggregation, cur.Committed,
		boolInt(cur.Truncated), boolInt(cur.PossiblyTruncated),
		string(spansJSON), formatTime(updatedAt),
	)
	if err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "writing sync cursor: %w", err)
	}
	return nil
}

// DeleteAll removes every cursor.
func (c *CursorStore) DeleteAll(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM sync_cursors`); err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "clearing sync cursors: %w", err)
	}
	return nil
}

// Close closes the connection only when this store owns it.
func (c *CursorStore) Close() error {
	if c.ownConn {
		return c.db.Close()
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
