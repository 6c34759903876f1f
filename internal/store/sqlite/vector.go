// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ledgercache-dev/ledgercache/internal/store"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.VectorIndex = (*VectorIndex)(nil)

// VectorIndex implements store.VectorIndex backed by SQLite with
// sqlite-vec. Embeddings live in a vec0 virtual table using the cosine
// metric; a companion table carries the metadata projection used for
// pre-filtering.
type VectorIndex struct {
	db         *sql.DB
	dimensions int
	path       string
}

// filterOverfetch is how many times k we pull from the KNN scan when a
// metadata filter is present, since the filter is applied after ranking.
const filterOverfetch = 8

// NewVectorIndex opens (or creates) a SQLite database at dbPath and
// initialises the vec0 virtual table and companion metadata table.
func NewVectorIndex(dbPath string, dimensions int) (*VectorIndex, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrateVector(db, dimensions); err != nil {
		_ = db.Close()
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "migrating vector tables: %w", err)
	}

	return &VectorIndex{db: db, dimensions: dimensions, path: dbPath}, nil
}

// FileSize reports the on-disk size of the database file, or 0 when it
// cannot be statted.
func (v *VectorIndex) FileSize() int64 {
	if v.path == "" {
		return 0
	}
	info, err := os.Stat(v.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func migrateVector(db *sql.DB, dimensions int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(token TEXT PRIMARY KEY, embedding float[%d] distance_metric=cosine)`,
		dimensions,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating embeddings virtual table: %w", err)
	}

	const metaDDL = `
CREATE TABLE IF NOT EXISTS embedding_metadata (
	token    TEXT PRIMARY KEY,
	metadata TEXT NOT NULL DEFAULT '{}'
)`
	if _, err := db.Exec(metaDDL); err != nil {
		return fmt.Errorf("creating embedding_metadata table: %w", err)
	}

	return nil
}

// Upsert inserts or replaces a vector and its metadata projection.
func (v *VectorIndex) Upsert(ctx context.Context, token string, embedding []float32, metadata map[string]any) error {
	if len(embedding) != v.dimensions {
		return lcerr.Errorf(lcerr.CodeStoreInvalidInput,
			"embedding for %s has %d dimensions, index expects %d", token, len(embedding), v.dimensions)
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "serializing embedding: %w", err)
	}

	metaJSON := []byte("{}")
	if len(metadata) > 0 {
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "marshalling embedding metadata: %w", err)
		}
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "beginning vector transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// vec0 does not support ON CONFLICT; delete first for upsert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE token = ?`, token); err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "deleting existing embedding %s: %w", token, err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO embeddings(token, embedding) VALUES (?, ?)`, token, blob); err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "inserting embedding %s: %w", token, err)
	}

	const metaQ = `INSERT INTO embedding_metadata(token, metadata) VALUES (?, ?)
ON CONFLICT(token) DO UPDATE SET metadata = excluded.metadata`
	if _, err := tx.ExecContext(ctx, metaQ, token, string(metaJSON)); err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "upserting embedding metadata %s: %w", token, err)
	}

	if err := tx.Commit(); err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "committing embedding upsert: %w", err)
	}
	return nil
}

// Search performs a k-nearest-neighbour search, returning results in
// descending similarity order (1.0 = identical under cosine). A metadata
// filter is applied after ranking, so the scan overfetches to compensate.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int, filters map[string]any) ([]store.VectorResult, error) {
	if k <= 0 {
		return nil, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "serializing query vector: %w", err)
	}

	fetchK := k
	if len(filters) > 0 {
		fetchK = k * filterOverfetch
	}

	const q = `SELECT e.token, e.distance, COALESCE(m.metadata, '{}')
FROM embeddings e
LEFT JOIN embedding_metadata m ON m.token = e.token
WHERE e.embedding MATCH ? AND k = ?
ORDER BY e.distance`

	rows, err := v.db.QueryContext(ctx, q, blob, fetchK)
	if err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "searching embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []store.VectorResult
	for rows.Next() {
		var (
			res      store.VectorResult
			distance float64
			metaStr  string
		)

		if err := rows.Scan(&res.Token, &distance, &metaStr); err != nil {
			return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "scanning search result: %w", err)
		}

		if metaStr != "" && metaStr != "{}" {
			if err := json.Unmarshal([]byte(metaStr), &res.Metadata); err != nil {
				return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "unmarshalling embedding metadata: %w", err)
			}
		}

		if len(filters) > 0 && !matchMetadata(res.Metadata, filters) {
			continue
		}

		// Cosine distance to similarity.
		res.Score = 1 - distance
		results = append(results, res)
		if len(results) == k {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "iterating search results: %w", err)
	}

	return results, nil
}

// GetVector returns the stored embedding for a token.
func (v *VectorIndex) GetVector(ctx context.Context, token string) ([]float32, error) {
	var blob []byte
	err := v.db.QueryRowContext(ctx, `SELECT embedding FROM embeddings WHERE token = ?`, token).Scan(&blob)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, lcerr.New(lcerr.CodeStoreRecordNotFound, "no embedding for token "+token, lcerr.FieldToken(token))
		}
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "reading embedding %s: %w", token, err)
	}

	return deserializeFloat32(blob)
}

// Count returns the number of stored embeddings.
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		return 0, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "counting embeddings: %w", err)
	}
	return n, nil
}

// DeleteAll wipes the embeddings and their metadata together.
func (v *VectorIndex) DeleteAll(ctx context.Context) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "beginning vector clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "clearing embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM embedding_metadata`); err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "clearing embedding metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "committing vector clear: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (v *VectorIndex) Close() error {
	return v.db.Close()
}

// deserializeFloat32 decodes the little-endian float32 blob that
// sqlite-vec stores for a float[] column.
func deserializeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "embedding blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// matchMetadata evaluates a filter map against a metadata projection.
// Values may be plain (equality) or operator maps like {">": 100}.
func matchMetadata(meta map[string]any, filters map[string]any) bool {
	for field, cond := range filters {
		val, ok := meta[field]
		if !ok {
			return false
		}

		ops, isOps := cond.(map[string]any)
		if !isOps {
			if !looseEqual(val, cond) {
				return false
			}
			continue
		}

		for op, want := range ops {
			if !compareValues(val, op, want) {
				return false
			}
		}
	}
	return true
}

func compareValues(have any, op string, want any) bool {
	switch op {
	case "=":
		return looseEqual(have, want)
	case "!=":
		return !looseEqual(have, want)
	}

	hf, hok := toFloat(have)
	wf, wok := toFloat(want)
	if hok && wok {
		switch op {
		case ">":
			return hf > wf
		case "<":
			return hf < wf
		case ">=":
			return hf >= wf
		case "<=":
			return hf <= wf
		}
		return false
	}

	hs := fmt.Sprintf("%v", have)
	ws := fmt.Sprintf("%v", want)
	switch op {
	case ">":
		return hs > ws
	case "<":
		return hs < ws
	case ">=":
		return hs >= ws
	case "<=":
		return hs <= ws
	}
	return false
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
