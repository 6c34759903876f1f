// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgercache-dev/ledgercache/internal/store"
)

// timestampLayouts are the formats the upstream uses for timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// toRecord converts a raw upstream record into a store.Record, projecting
// the indexed scalar fields and keeping the full payload verbatim.
// Records without a token cannot be stored and return false.
func toRecord(raw map[string]any, view, aggregation string, syncedAt time.Time) (*store.Record, bool) {
	token := rawString(raw, "transaction_token", "token")
	if token == "" {
		return nil, false
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}

	rec := &store.Record{
		Token:        token,
		View:         view,
		Aggregation:  aggregation,
		MerchantName: rawString(raw, "merchant_name", "acquirer_merchant_name"),
		Type:         rawString(raw, "transaction_type"),
		State:        rawString(raw, "state", "transaction_status"),
		UserToken:    rawString(raw, "user_token", "acting_user_token"),
		CardToken:    rawString(raw, "card_token"),
		Network:      rawString(raw, "network"),
		MCC:          rawString(raw, "merchant_category_code"),
		Currency:     rawString(raw, "currency_code"),
		Payload:      payload,
		SyncedAt:     syncedAt,
	}

	if amount, ok := rawNumber(raw, "transaction_amount", "amount"); ok {
		rec.Amount = amount
	}
	if ts := rawString(raw, "transaction_timestamp", "created_time"); ts != "" {
		rec.Timestamp = parseTimestamp(ts)
	}

	return rec, true
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func rawString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case float64:
			// Numeric tokens are stringified; trim the float formatting
			// for whole numbers.
			if s == float64(int64(s)) {
				return fmt.Sprintf("%d", int64(s))
			}
			return fmt.Sprintf("%v", s)
		default:
			if str := fmt.Sprintf("%v", v); str != "" {
				return str
			}
		}
	}
	return ""
}

func rawNumber(raw map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case string:
			var f float64
			if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
