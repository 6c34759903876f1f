// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package sync

import (
	"time"

	"github.com/ledgercache-dev/ledgercache/internal/store"
)

// Status classifies how a sync run ended.
type Status string

const (
	// StatusCompleted means every planned chunk committed.
	StatusCompleted Status = "completed"
	// StatusPartial means one or more chunks failed after retry while
	// the rest committed.
	StatusPartial Status = "partial"
	// StatusTimedOut means the run's overall timeout expired; committed
	// chunks stay committed.
	StatusTimedOut Status = "timed_out"
	// StatusFailed means nothing could be committed.
	StatusFailed Status = "failed"
)

// Report summarises one sync run.
type Report struct {
	// RunID uniquely identifies this run in logs and reports.
	RunID string `json:"run_id"`

	Status    Status        `json:"status"`
	Signature string        `json:"signature"`
	Committed int           `json:"committed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`

	// Truncated is set when MaxRecords stopped the run early.
	Truncated bool `json:"truncated"`

	// PossiblyTruncated is set when a minimum-granularity chunk still
	// returned the hard cap, so some records in that window could not be
	// retrieved at all.
	PossiblyTruncated bool `json:"possibly_truncated"`

	// SkippedChunks counts chunks skipped because a prior interrupted
	// run already committed them.
	SkippedChunks int `json:"skipped_chunks,omitempty"`

	// FailedChunks lists the spans that failed to commit after retry, so
	// a caller can re-run sync targeted at just those windows.
	FailedChunks []store.ChunkSpan `json:"failed_chunks,omitempty"`
	Errors       []string          `json:"errors,omitempty"`
}
