// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ledgercache-dev/ledgercache/internal/store"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

// Compile-time interface check.
var _ store.RecordStore = (*RecordStore)(nil)

// RecordStore implements store.RecordStore backed by SQLite. The full
// upstream record is kept as JSON in the payload column; a fixed set of
// scalar columns is projected out and indexed for filtering.
type RecordStore struct {
	db   *sql.DB
	path string
}

// queryColumns maps caller-facing filter/order field names to columns.
// Anything not listed here is resolved against the payload JSON with
// json_extract, which forces a full scan.
var queryColumns = map[string]string{
	"token":         "token",
	"view":          "view_name",
	"aggregation":   "aggregation",
	"merchant_name": "merchant_name",
	"amount":        "amount",
	"type":          "txn_type",
	"state":         "state",
	"user_token":    "user_token",
	"card_token":    "card_token",
	"network":       "network",
	"mcc":           "mcc",
	"currency":      "currency",
	"timestamp":     "txn_timestamp",
	"synced_at":     "synced_at",
}

var filterOps = map[string]string{
	"=": "=", "!=": "!=", ">": ">", "<": "<", ">=": ">=", "<=": "<=", "like": "LIKE",
}

// identRe constrains payload field names interpolated into json_extract paths.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewRecordStore opens (or creates) a SQLite database at dbPath and
// initialises the records table and its indexes.
func NewRecordStore(dbPath string) (*RecordStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	rs, err := NewRecordStoreWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	rs.path = dbPath
	return rs, nil
}

// FileSize reports the on-disk size of the database file, or 0 when the
// store wraps a shared connection or the file cannot be statted.
func (s *RecordStore) FileSize() int64 {
	if s.path == "" {
		return 0
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// NewRecordStoreWithDB wraps an already-open connection, so the record and
// cursor stores can share one database file.
func NewRecordStoreWithDB(db *sql.DB) (*RecordStore, error) {
	if err := migrateRecords(db); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "migrating records table: %w", err)
	}
	return &RecordStore{db: db}, nil
}

func migrateRecords(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS records (
	token         TEXT PRIMARY KEY,
	view_name     TEXT NOT NULL,
	aggregation   TEXT NOT NULL,
	merchant_name TEXT,
	amount        REAL,
	txn_type      TEXT,
	state         TEXT,
	user_token    TEXT,
	card_token    TEXT,
	network       TEXT,
	mcc           TEXT,
	currency      TEXT,
	txn_timestamp TEXT,
	payload       TEXT NOT NULL,
	embedded      INTEGER NOT NULL DEFAULT 0,
	synced_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_merchant  ON records(merchant_name);
CREATE INDEX IF NOT EXISTS idx_records_amount    ON records(amount);
CREATE INDEX IF NOT EXISTS idx_records_user      ON records(user_token);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(txn_timestamp);
CREATE INDEX IF NOT EXISTS idx_records_view      ON records(view_name);
`
	_, err := db.Exec(ddl)
	return err
}

// Upsert inserts or replaces records by token inside one transaction.
// Replaced rows get their embedded flag cleared; MarkEmbedded completes
// the paired commit once the vector write has succeeded.
func (r *RecordStore) Upsert(ctx context.Context, records []*store.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "beginning record transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO records (
	token, view_name, aggregation, merchant_name, amount, txn_type, state,
	user_token, card_token, network, mcc, currency, txn_timestamp, payload, embedded, synced_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
ON CONFLICT(token) DO UPDATE SET
	view_name     = excluded.view_name,
	aggregation   = excluded.aggregation,
	merchant_name = excluded.merchant_name,
	amount        = excluded.amount,
	txn_type      = excluded.txn_type,
	state         = excluded.state,
	user_token    = excluded.user_token,
	card_token    = excluded.card_token,
	network       = excluded.network,
	mcc           = excluded.mcc,
	currency      = excluded.currency,
	txn_timestamp = excluded.txn_timestamp,
	payload       = excluded.payload,
	embedded      = 0,
	synced_at     = excluded.synced_at`

	count := 0
	for _, rec := range records {
		if rec.Token == "" {
			return count, lcerr.New(lcerr.CodeStoreInvalidInput, "record missing token")
		}
		syncedAt := rec.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, q,
			rec.Token, rec.View, rec.Aggregation, rec.MerchantName, rec.Amount,
			rec.Type, rec.State, rec.UserToken, rec.CardToken, rec.Network,
			rec.MCC, rec.Currency, formatTime(rec.Timestamp), string(rec.Payload),
			formatTime(syncedAt),
		); err != nil {
			return count, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "upserting record %s: %w", rec.Token, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "committing record upsert: %w", err)
	}
	return count, nil
}

// MarkEmbedded flags tokens whose paired embedding write succeeded.
func (r *RecordStore) MarkEmbedded(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(tokens))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(tokens))
	for i, tok := range tokens {
		args[i] = tok
	}

	q := `UPDATE records SET embedded = 1 WHERE token IN (` + placeholders + `)`
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "marking records embedded: %w", err)
	}
	return nil
}

// Query runs an exact-filter query. When OrderBy is empty, results come
// back in token order so pagination is reproducible.
func (r *RecordStore) Query(ctx context.Context, q store.RecordQuery) (*store.RecordPage, error) {
	where, args, err := buildWhere(q.Filters)
	if err != nil {
		return nil, err
	}

	var total int
	countQ := `SELECT COUNT(*) FROM records WHERE ` + where
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "counting records: %w", err)
	}

	orderBy, err := buildOrderBy(q.OrderBy)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	sel := selectColumns + ` FROM records WHERE ` + where +
		` ORDER BY ` + orderBy + ` LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, sel, append(args, limit, q.Offset)...)
	if err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "querying records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page := &store.RecordPage{Total: total}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "iterating records: %w", err)
	}

	return page, nil
}

// GetByTokens returns the records for the given tokens, keyed by token.
// Missing tokens are simply absent from the result.
func (r *RecordStore) GetByTokens(ctx context.Context, tokens []string) (map[string]*store.Record, error) {
	if len(tokens) == 0 {
		return map[string]*store.Record{}, nil
	}

	placeholders := strings.Repeat("?,", len(tokens))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(tokens))
	for i, tok := range tokens {
		args[i] = tok
	}

	q := selectColumns + ` FROM records WHERE token IN (` + placeholders + `)`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "getting records by token: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*store.Record, len(tokens))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Token] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "iterating records by token: %w", err)
	}

	return out, nil
}

// Count returns the total number of stored records.
func (r *RecordStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "counting records: %w", err)
	}
	return n, nil
}

// Stats summarises the store: totals, per-view counts, the covered date
// range, and the most recent sync time per view.
func (r *RecordStore) Stats(ctx context.Context) (*store.RecordStats, error) {
	stats := &store.RecordStats{LastSync: map[string]time.Time{}}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&stats.Total); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "counting records: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT view_name, aggregation, COUNT(*), MAX(synced_at)
FROM records GROUP BY view_name, aggregation`)
	if err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "grouping records by view: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var vc store.ViewCount
		var lastSync sql.NullString
		if err := rows.Scan(&vc.View, &vc.Aggregation, &vc.Count, &lastSync); err != nil {
			return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "scanning view count: %w", err)
		}
		stats.ByView = append(stats.ByView, vc)
		if lastSync.Valid {
			if t := parseTime(lastSync.String); !t.IsZero() {
				if prev, ok := stats.LastSync[vc.View]; !ok || t.After(prev) {
					stats.LastSync[vc.View] = t
				}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "iterating view counts: %w", err)
	}
	sort.Slice(stats.ByView, func(i, j int) bool {
		if stats.ByView[i].View != stats.ByView[j].View {
			return stats.ByView[i].View < stats.ByView[j].View
		}
		return stats.ByView[i].Aggregation < stats.ByView[j].Aggregation
	})

	var earliest, latest sql.NullString
	err = r.db.QueryRowContext(ctx,
		`SELECT MIN(txn_timestamp), MAX(txn_timestamp) FROM records WHERE txn_timestamp != ''`,
	).Scan(&earliest, &latest)
	if err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "reading record date range: %w", err)
	}
	if earliest.Valid {
		stats.Earliest = parseTime(earliest.String)
	}
	if latest.Valid {
		stats.Latest = parseTime(latest.String)
	}

	return stats, nil
}

// DeleteAll wipes the records table.
func (r *RecordStore) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "clearing records: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (r *RecordStore) Close() error {
	return r.db.Close()
}

const selectColumns = `SELECT token, view_name, aggregation, merchant_name, amount,
	txn_type, state, user_token, card_token, network, mcc, currency,
	txn_timestamp, payload, synced_at`

func scanRecord(rows *sql.Rows) (*store.Record, error) {
	var (
		rec                store.Record
		merchant, txnType  sql.NullString
		state, userTok     sql.NullString
		cardTok, network   sql.NullString
		mcc, currency      sql.NullString
		amount             sql.NullFloat64
		timestamp, payload string
		syncedAt           string
	)

	if err := rows.Scan(&rec.Token, &rec.View, &rec.Aggregation, &merchant, &amount,
		&txnType, &state, &userTok, &cardTok, &network, &mcc, &currency,
		&timestamp, &payload, &syncedAt); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "scanning record: %w", err)
	}

	rec.MerchantName = merchant.String
	rec.Amount = amount.Float64
	rec.Type = txnType.String
	rec.State = state.String
	rec.UserToken = userTok.String
	rec.CardToken = cardTok.String
	rec.Network = network.String
	rec.MCC = mcc.String
	rec.Currency = currency.String
	rec.Timestamp = parseTime(timestamp)
	rec.Payload = []byte(payload)
	rec.SyncedAt = parseTime(syncedAt)

	return &rec, nil
}

// buildWhere turns a filter map into a WHERE clause. Known fields hit
// indexed columns; unknown fields fall back to json_extract over the
// payload, which scans the whole table.
func buildWhere(filters map[string]any) (string, []any, error) {
	if len(filters) == 0 {
		return "1=1", nil, nil
	}

	// Sort keys so the generated SQL is stable across runs.
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		clauses []string
		args    []any
	)
	for _, field := range keys {
		expr, err := columnExpr(field)
		if err != nil {
			return "", nil, err
		}

		switch v := filters[field].(type) {
		case map[string]any:
			opKeys := make([]string, 0, len(v))
			for op := range v {
				opKeys = append(opKeys, op)
			}
			sort.Strings(opKeys)
			for _, op := range opKeys {
				sqlOp, ok := filterOps[op]
				if !ok {
					return "", nil, lcerr.Errorf(lcerr.CodeStoreInvalidInput, "unsupported filter operator %q on field %q", op, field)
				}
				val := v[op]
				if op == "like" {
					val = fmt.Sprintf("%%%v%%", val)
				}
				clauses = append(clauses, expr+" "+sqlOp+" ?")
				args = append(args, normaliseArg(val))
			}
		default:
			clauses = append(clauses, expr+" = ?")
			args = append(args, normaliseArg(v))
		}
	}

	return strings.Join(clauses, " AND "), args, nil
}

// columnExpr resolves a filter field to a SQL expression.
func columnExpr(field string) (string, error) {
	if col, ok := queryColumns[field]; ok {
		return col, nil
	}
	if !identRe.MatchString(field) {
		return "", lcerr.Errorf(lcerr.CodeStoreInvalidInput, "invalid filter field %q", field)
	}
	return `json_extract(payload, '$.` + field + `')`, nil
}

// buildOrderBy resolves an order field ("-" prefix = descending) and
// appends token as tiebreaker for a deterministic order.
func buildOrderBy(orderBy string) (string, error) {
	if orderBy == "" {
		return "token ASC", nil
	}

	dir := "ASC"
	field := orderBy
	if strings.HasPrefix(field, "-") {
		dir = "DESC"
		field = field[1:]
	}

	col, ok := queryColumns[field]
	if !ok {
		return "", lcerr.Errorf(lcerr.CodeStoreInvalidInput, "cannot order by unknown field %q", field)
	}
	if col == "token" {
		return "token " + dir, nil
	}
	return col + " " + dir + ", token ASC", nil
}

// normaliseArg converts time values to their stored text form so range
// filters compare correctly.
func normaliseArg(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatTime(t)
	}
	return v
}
