// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package store

import (
	"encoding/json"
	"time"
)

// Record is one upstream transaction row, keyed by its upstream-assigned
// token. A small set of scalar fields is projected out for indexing; the
// complete upstream record is preserved verbatim in Payload.
type Record struct {
	Token       string `json:"token"`
	View        string `json:"view"`
	Aggregation string `json:"aggregation"`

	MerchantName string    `json:"merchant_name,omitempty"`
	Amount       float64   `json:"amount,omitempty"`
	Type         string    `json:"type,omitempty"`
	State        string    `json:"state,omitempty"`
	UserToken    string    `json:"user_token,omitempty"`
	CardToken    string    `json:"card_token,omitempty"`
	Network      string    `json:"network,omitempty"`
	MCC          string    `json:"mcc,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`

	Payload  json.RawMessage `json:"payload,omitempty"`
	SyncedAt time.Time       `json:"synced_at"`
}

// RecordQuery specifies an exact-filter query against the relational store.
//
// Filters maps a field name to either a plain value (equality) or a
// map of operator to value, e.g. {"amount": {">": 100}}. Supported
// operators: = != > < >= <= like. Filters on non-indexed fields are
// evaluated against the payload JSON and require a full scan.
type RecordQuery struct {
	Filters map[string]any
	OrderBy string // empty means deterministic primary-key order
	Limit   int
	Offset  int
}

// RecordPage is a page of query results plus the unpaginated total.
type RecordPage struct {
	Total   int       `json:"total"`
	Records []*Record `json:"records"`
}

// VectorResult is one hit from a similarity search. Score is similarity,
// descending: 1.0 is an exact match under the cosine metric.
type VectorResult struct {
	Token    string
	Score    float64
	Metadata map[string]any
}

// ChunkSpan is a half-open [Start, End) date window covered by one
// upstream fetch.
type ChunkSpan struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether other lies entirely within the span.
func (s ChunkSpan) Contains(other ChunkSpan) bool {
	return !other.Start.Before(s.Start) && !other.End.After(s.End)
}

// SyncCursor records sync progress for one logical query, keyed by the
// query signature. Committed spans make a re-run skip work already done.
type SyncCursor struct {
	Signature         string
	View              string
	Aggregation       string
	Committed         int
	Truncated         bool
	PossiblyTruncated bool
	Spans             []ChunkSpan
	UpdatedAt         time.Time
}

// Covers reports whether the span was already committed by a prior run.
func (c *SyncCursor) Covers(span ChunkSpan) bool {
	for _, s := range c.Spans {
		if s.Contains(span) {
			return true
		}
	}
	return false
}

// ViewCount is a per-view record tally for stats reporting.
type ViewCount struct {
	View        string `json:"view"`
	Aggregation string `json:"aggregation"`
	Count       int    `json:"count"`
}

// RecordStats summarises the relational store contents.
type RecordStats struct {
	Total    int
	ByView   []ViewCount
	Earliest time.Time
	Latest   time.Time
	LastSync map[string]time.Time // view -> most recent synced_at
}
