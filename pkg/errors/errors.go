// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeSchemaFieldInvalid     Code = "schema.field.invalid_input"
	CodeSchemaDateRangeInvalid Code = "schema.daterange.invalid_input"
	CodeSchemaFetchFailure     Code = "schema.fetch.failure"

	CodeUpstreamRateLimitTimeout Code = "upstream.ratelimit.timeout"
	CodeUpstreamThrottled        Code = "upstream.throttle.budget_exceeded"
	CodeUpstreamBadRequest       Code = "upstream.request.invalid_input"
	CodeUpstreamForbidden        Code = "upstream.access.forbidden"
	CodeUpstreamNotFound         Code = "upstream.endpoint.not_found"
	CodeUpstreamFailure          Code = "upstream.response.failure"

	CodeStoreDatabaseFailure     Code = "store.database.failure"
	CodeStoreRecordNotFound      Code = "store.record.not_found"
	CodeStoreInvalidInput        Code = "store.query.invalid_input"
	CodeStoreConsistencyConflict Code = "store.consistency.conflict"

	CodeSyncChunkFailure Code = "sync.chunk.failure"
	CodeSyncInvalidInput Code = "sync.query.invalid_input"
	CodeSyncRunFailure   Code = "sync.run.failure"

	CodeEmbedFailure Code = "embed.generate.failure"

	CodeSecretNotFound       Code = "secret.key.not_found"
	CodeSecretInvalidInput   Code = "secret.input.invalid_input"
	CodeSecretStorageFailure Code = "secret.storage.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid  Code = "server.request.invalid_input"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid_input"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldView(value string) Attr {
	return Field("view", value)
}

func FieldToken(value string) Attr {
	return Field("token", value)
}

func FieldSignature(value string) Attr {
	return Field("signature", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsForbidden(err error) bool {
	return reason(CodeOf(err)) == "forbidden"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsThrottled(err error) bool {
	return reason(CodeOf(err)) == "budget_exceeded"
}

func IsConsistencyViolation(err error) bool {
	return HasCode(err, CodeStoreConsistencyConflict)
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

// Retryable reports whether the error class is transient and worth
// retrying with backoff. Validation and upstream client errors are not.
func Retryable(err error) bool {
	return IsThrottled(err) || IsUpstreamFailure(err)
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsForbidden(err):
		return http.StatusForbidden
	case IsThrottled(err):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
