// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

// Package health exposes point-in-time upstream health snapshots.
package health

import "time"

// Metrics describes the observed health of the upstream connection for
// monitoring and operator visibility. All fields are point-in-time
// snapshots safe to serialize to JSON.
type Metrics struct {
	// FailureCount is the number of failed upstream calls since startup.
	FailureCount int64 `json:"failure_count"`

	// LastFailureAt is when the most recent call failed, if any.
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`

	// LastThrottledAt is when the upstream last returned a throttle
	// response, if any.
	LastThrottledAt *time.Time `json:"last_throttled_at,omitempty"`

	// WindowCalls is the number of calls counted against the current
	// rate window.
	WindowCalls int `json:"window_calls"`

	// Available is false while the upstream is considered unhealthy,
	// currently meaning the most recent call failed.
	Available bool `json:"available"`
}
