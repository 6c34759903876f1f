// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

// Package types holds small shared domain types.
package types

import (
	"strings"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

// Aggregation is the rollup level a view is queried at.
type Aggregation string

const (
	AggregationDetail Aggregation = "detail"
	AggregationDay    Aggregation = "day"
	AggregationWeek   Aggregation = "week"
	AggregationMonth  Aggregation = "month"
)

// Valid reports whether a is a recognized aggregation level.
func (a Aggregation) Valid() bool {
	switch a {
	case AggregationDetail, AggregationDay, AggregationWeek, AggregationMonth:
		return true
	default:
		return false
	}
}

func (a Aggregation) String() string {
	return string(a)
}

// ParseAggregation parses a case-insensitive string into an Aggregation.
// An empty string parses to AggregationDetail.
func ParseAggregation(s string) (Aggregation, error) {
	if s == "" {
		return AggregationDetail, nil
	}
	a := Aggregation(strings.ToLower(s))
	if !a.Valid() {
		return "", lcerr.Errorf(lcerr.CodeSyncInvalidInput,
			"invalid aggregation %q: expected detail, day, week, or month", s)
	}
	return a, nil
}
