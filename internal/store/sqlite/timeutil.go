// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package sqlite

import "time"

// formatTime serialises a time.Time to RFC3339 for TEXT column storage.
// RFC3339 sorts lexicographically, so range predicates work on the raw text.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
