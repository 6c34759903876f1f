// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := lcerr.New(
		lcerr.CodeSchemaFieldInvalid,
		"unknown filter field",
		lcerr.FieldView("authorizations"),
		lcerr.Field("field", "merchantt_name"),
	)

	require.Error(t, err)
	assert.Equal(t, lcerr.CodeSchemaFieldInvalid, lcerr.CodeOf(err))
	assert.True(t, lcerr.HasCode(err, lcerr.CodeSchemaFieldInvalid))

	fields := lcerr.FieldsOf(err)
	assert.Equal(t, "authorizations", fields["view"])
	assert.Equal(t, "merchantt_name", fields["field"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := lcerr.Errorf(lcerr.CodeStoreDatabaseFailure, "write failed: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, lcerr.CodeStoreDatabaseFailure, lcerr.CodeOf(err))
}

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("record missing")
	err := lcerr.Wrap(
		root,
		lcerr.CodeStoreRecordNotFound,
		"loading record",
		lcerr.FieldToken("txn-42"),
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, lcerr.CodeStoreRecordNotFound, lcerr.CodeOf(err))
	assert.True(t, lcerr.IsNotFound(err))
	assert.Equal(t, "txn-42", lcerr.FieldsOf(err)["token"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, lcerr.Wrap(nil, lcerr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, lcerr.Wrapf(nil, lcerr.CodeServerInternalFailure, "ignored %s", "arg"))
}

func TestWithAddsContextWithoutChangingCode(t *testing.T) {
	base := lcerr.New(lcerr.CodeUpstreamForbidden, "filter not allowed")
	withCtx := lcerr.With(base, lcerr.FieldView("settlements"))

	require.Error(t, withCtx)
	assert.Equal(t, lcerr.CodeUpstreamForbidden, lcerr.CodeOf(withCtx))
	assert.Equal(t, "settlements", lcerr.FieldsOf(withCtx)["view"])
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	plain := stderrors.New("something broke")
	enriched := lcerr.With(plain, lcerr.FieldSignature("sig-1"))

	require.Error(t, enriched)
	assert.Equal(t, lcerr.CodeServerInternalFailure, lcerr.CodeOf(enriched))
	assert.Equal(t, "sig-1", lcerr.FieldsOf(enriched)["signature"])
}

func TestCodeOfReturnsInnermostCodedError(t *testing.T) {
	inner := lcerr.New(lcerr.CodeStoreDatabaseFailure, "db")
	outer := lcerr.Wrap(inner, lcerr.CodeServerInternalFailure, "handler")
	// oops.AsOops walks to the deepest oops error.
	assert.Equal(t, lcerr.CodeStoreDatabaseFailure, lcerr.CodeOf(outer))
}

func TestCodeOfNilAndPlain(t *testing.T) {
	assert.Equal(t, lcerr.Code(""), lcerr.CodeOf(nil))
	assert.Equal(t, lcerr.Code(""), lcerr.CodeOf(stderrors.New("plain")))
}

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   lcerr.Code
		status int
		check  func(error) bool
	}{
		{name: "record not found", code: lcerr.CodeStoreRecordNotFound, status: 404, check: lcerr.IsNotFound},
		{name: "endpoint not found", code: lcerr.CodeUpstreamNotFound, status: 404, check: lcerr.IsNotFound},
		{name: "schema field invalid", code: lcerr.CodeSchemaFieldInvalid, status: 400, check: lcerr.IsInvalidInput},
		{name: "date range invalid", code: lcerr.CodeSchemaDateRangeInvalid, status: 400, check: lcerr.IsInvalidInput},
		{name: "bad request", code: lcerr.CodeUpstreamBadRequest, status: 400, check: lcerr.IsInvalidInput},
		{name: "config invalid", code: lcerr.CodeConfigValidateInvalidValue, status: 400, check: lcerr.IsInvalidInput},
		{name: "forbidden", code: lcerr.CodeUpstreamForbidden, status: 403, check: lcerr.IsForbidden},
		{name: "throttled", code: lcerr.CodeUpstreamThrottled, status: 429, check: lcerr.IsThrottled},
		{name: "rate limit timeout", code: lcerr.CodeUpstreamRateLimitTimeout, status: 504, check: lcerr.IsTimeout},
		{name: "upstream failure", code: lcerr.CodeUpstreamFailure, status: 502, check: lcerr.IsUpstreamFailure},
		{name: "internal", code: lcerr.CodeServerInternalFailure, status: 500, check: func(err error) bool { return !lcerr.IsNotFound(err) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := lcerr.New(tt.code, "boom")
			assert.Equal(t, tt.status, lcerr.HTTPStatus(err))
			assert.True(t, tt.check(err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, lcerr.Retryable(lcerr.New(lcerr.CodeUpstreamThrottled, "throttled")))
	assert.True(t, lcerr.Retryable(lcerr.New(lcerr.CodeUpstreamFailure, "network")))
	assert.False(t, lcerr.Retryable(lcerr.New(lcerr.CodeUpstreamBadRequest, "bad filter")))
	assert.False(t, lcerr.Retryable(lcerr.New(lcerr.CodeUpstreamForbidden, "denied")))
	assert.False(t, lcerr.Retryable(nil))
}

func TestClassificationOnNilAndPlainError(t *testing.T) {
	for _, err := range []error{nil, stderrors.New("plain")} {
		assert.False(t, lcerr.IsNotFound(err))
		assert.False(t, lcerr.IsInvalidInput(err))
		assert.False(t, lcerr.IsForbidden(err))
		assert.False(t, lcerr.IsThrottled(err))
		assert.False(t, lcerr.IsTimeout(err))
		assert.False(t, lcerr.IsUpstreamFailure(err))
	}
}

func TestHTTPStatusFallbacks(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, lcerr.HTTPStatus(nil))
	assert.Equal(t, http.StatusInternalServerError, lcerr.HTTPStatus(stderrors.New("oops")))
}

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("first")
	b := stderrors.New("second")
	joined := lcerr.Join(a, b)

	require.Error(t, joined)
	assert.ErrorIs(t, joined, a)
	assert.ErrorIs(t, joined, b)
}

func TestErrorIsWithWrappedChain(t *testing.T) {
	sentinel := stderrors.New("root cause")
	mid := fmt.Errorf("mid: %w", sentinel)
	outer := lcerr.Wrap(mid, lcerr.CodeServerInternalFailure, "handler")

	assert.ErrorIs(t, outer, sentinel)
}

func TestConsistencyViolation(t *testing.T) {
	err := lcerr.New(lcerr.CodeStoreConsistencyConflict, "vector id without record",
		lcerr.FieldToken("txn-9"))
	assert.True(t, lcerr.IsConsistencyViolation(err))
	assert.False(t, lcerr.IsConsistencyViolation(stderrors.New("plain")))
}
