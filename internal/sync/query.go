// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

// Package sync plans and runs record synchronisation against the
// upstream API: chunking the date range under the hard cap, fetching
// through the shared rate limiter, and committing paired record and
// embedding writes.
package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ledgercache-dev/ledgercache/internal/store"
)

// Query identifies one logical sync: what view to pull, which fields,
// which filters, and the date window to cover.
type Query struct {
	View        string
	Aggregation string
	Fields      []string
	Filters     map[string]any

	// DateField names the timestamp column used for chunking, e.g.
	// transaction_timestamp. Start/End bound the covered window; both
	// zero means a single unchunked fetch.
	DateField string
	Start     time.Time
	End       time.Time
}

// HasDateRange reports whether the query is bounded by a date window.
func (q Query) HasDateRange() bool {
	return !q.Start.IsZero() && !q.End.IsZero() && q.DateField != ""
}

// FilterKeys returns the filter field names in sorted order.
func (q Query) FilterKeys() []string {
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Signature returns a stable identifier for the query, used to key the
// persisted sync cursor. Two queries with the same parameters always
// produce the same signature.
func (q Query) Signature() string {
	canonical := struct {
		View        string         `json:"view"`
		Aggregation string         `json:"aggregation"`
		Fields      []string       `json:"fields,omitempty"`
		Filters     map[string]any `json:"filters,omitempty"`
		DateField   string         `json:"date_field,omitempty"`
		Start       string         `json:"start,omitempty"`
		End         string         `json:"end,omitempty"`
	}{
		View:        q.View,
		Aggregation: q.Aggregation,
		Fields:      append([]string(nil), q.Fields...),
		Filters:     q.Filters,
		DateField:   q.DateField,
	}
	sort.Strings(canonical.Fields)
	if !q.Start.IsZero() {
		canonical.Start = q.Start.UTC().Format(time.RFC3339)
	}
	if !q.End.IsZero() {
		canonical.End = q.End.UTC().Format(time.RFC3339)
	}

	// Map keys marshal in sorted order, so this is deterministic.
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// params builds the upstream query parameters for one chunk of the
// query. Date bounds become range filters on the date field.
func (q Query) params(span store.ChunkSpan, hardCap int) url.Values {
	params := url.Values{}
	if len(q.Fields) > 0 {
		params.Set("fields", strings.Join(q.Fields, ","))
	}
	for key, val := range q.Filters {
		switch v := val.(type) {
		case []any:
			strs := make([]string, len(v))
			for i, item := range v {
				strs[i] = fmt.Sprintf("%v", item)
			}
			params.Set(key, strings.Join(strs, ","))
		case map[string]any:
			ops := make([]string, 0, len(v))
			for op := range v {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				params.Add(key, renderCondition(op, v[op]))
			}
		default:
			params.Set(key, fmt.Sprintf("%v", val))
		}
	}
	if q.HasDateRange() && !span.Start.IsZero() {
		params.Add(q.DateField, ">="+span.Start.UTC().Format(dateParamLayout))
		params.Add(q.DateField, "<"+span.End.UTC().Format(dateParamLayout))
	}
	params.Set("count", strconv.Itoa(hardCap))
	return params
}

// renderCondition serializes one operator condition in the upstream's
// operator-in-value form, e.g. ">=100". Equality and like match on the
// bare value.
func renderCondition(op string, val any) string {
	s := fmt.Sprintf("%v", val)
	switch op {
	case "=", "like":
		return s
	}
	return op + s
}

const dateParamLayout = "2006-01-02T15:04:05Z"
