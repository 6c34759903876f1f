// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

// Package embed turns transaction records into embedding vectors for
// similarity search.
package embed

import (
	"context"
	"fmt"
)

// Embedder generates one vector per input text. Implementations must
// return vectors in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// RecordText formats a raw upstream record into the text that gets
// embedded. Only the fields that carry semantic signal are included;
// a record with almost nothing falls back to its token so it still
// embeds to something.
func RecordText(record map[string]any) string {
	var parts []string

	merchant := stringField(record, "merchant_name", "acquirer_merchant_name", "card_acceptor_name_location")
	if merchant != "" {
		parts = append(parts, "Merchant: "+merchant)
	}

	if amount, ok := numberField(record, "transaction_amount", "amount"); ok {
		currency := stringField(record, "currency_code")
		if currency == "" {
			currency = "USD"
		}
		parts = append(parts, fmt.Sprintf("Amount: %v %s", amount, currency))
	}

	if txnType := stringField(record, "transaction_type"); txnType != "" {
		parts = append(parts, "Type: "+txnType)
	}
	if state := stringField(record, "state", "transaction_status"); state != "" {
		parts = append(parts, "Status: "+state)
	}
	if mcc := stringField(record, "merchant_category_code"); mcc != "" {
		parts = append(parts, "MCC: "+mcc)
	}
	if presence := stringField(record, "card_presence_indicator"); presence != "" {
		parts = append(parts, "Card Presence: "+presence)
	}
	if network := stringField(record, "network"); network != "" {
		parts = append(parts, "Network: "+network)
	}

	if len(parts) < 2 {
		if token := stringField(record, "transaction_token", "token"); token != "" {
			parts = append(parts, "Transaction: "+token)
		}
	}

	return join(parts)
}

// MetadataProjection extracts the scalar fields stored alongside the
// vector for pre-filtering. Empty values are dropped.
func MetadataProjection(record map[string]any) map[string]any {
	meta := map[string]any{}

	put := func(key, val string) {
		if val != "" {
			meta[key] = val
		}
	}
	put("merchant_name", stringField(record, "merchant_name", "acquirer_merchant_name"))
	put("transaction_type", stringField(record, "transaction_type"))
	put("state", stringField(record, "state", "transaction_status"))
	put("user_token", stringField(record, "user_token", "acting_user_token"))
	put("card_token", stringField(record, "card_token"))
	put("created_time", stringField(record, "created_time", "transaction_timestamp"))
	put("network", stringField(record, "network"))

	if amount, ok := numberField(record, "transaction_amount", "amount"); ok && amount != 0 {
		meta["transaction_amount"] = amount
	}

	return meta
}

func stringField(record map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := record[key]; ok && v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
			if s := fmt.Sprintf("%v", v); s != "" && s != "<nil>" {
				return s
			}
		}
	}
	return ""
}

func numberField(record map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := record[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
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

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " | "
		}
		out += p
	}
	return out
}
