// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package sqlite_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgercache-dev/ledgercache/internal/store"
)

// testDir creates a temp directory for a test with automatic cleanup.
func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ledgercache-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(testDir(t), name+".db")
}

// testRecord builds a minimal valid record for store tests.
func testRecord(token, merchant string, amount float64, ts time.Time) *store.Record {
	payload, _ := json.Marshal(map[string]any{
		"transaction_token":  token,
		"acting_user_token":  "user-1",
		"merchant_name":      merchant,
		"transaction_amount": amount,
	})
	return &store.Record{
		Token:        token,
		View:         "authorizations",
		Aggregation:  "DETAIL",
		MerchantName: merchant,
		Amount:       amount,
		Type:         "authorization",
		State:        "COMPLETED",
		UserToken:    "user-1",
		Currency:     "USD",
		Timestamp:    ts,
		Payload:      payload,
	}
}
