// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{
		BaseURL:     srv.URL,
		Program:     "test-program",
		AppToken:    "app",
		AccessToken: "secret",
	}, NewLimiter(1000, time.Minute), nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestClient_GetView(t *testing.T) {
	var gotPath, gotProgram, gotCount string
	var gotUser, gotPass string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotProgram = r.URL.Query().Get("program")
		gotCount = r.URL.Query().Get("count")
		gotUser, gotPass, _ = r.BasicAuth()
		w.Write([]byte(`{"records":[{"transaction_token":"tok-1"}],"count":1,"is_more":false}`))
	})

	page, err := c.GetView(context.Background(), "authorizations", "detail", nil)
	require.NoError(t, err)
	assert.Equal(t, "/views/authorizations/detail", gotPath)
	assert.Equal(t, "test-program", gotProgram)
	assert.Equal(t, "10000", gotCount)
	assert.Equal(t, "app", gotUser)
	assert.Equal(t, "secret", gotPass)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "tok-1", page.Records[0]["transaction_token"])
	assert.False(t, page.IsMore)
}

func TestClient_GetViewPassesFilters(t *testing.T) {
	var query url.Values
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(`{"records":[],"count":0,"is_more":false}`))
	})

	params := url.Values{}
	params.Set("transaction_timestamp", ">=2026-01-01")
	params.Set("count", "500")
	_, err := c.GetView(context.Background(), "authorizations", "detail", params)
	require.NoError(t, err)
	assert.Equal(t, ">=2026-01-01", query.Get("transaction_timestamp"))
	assert.Equal(t, "500", query.Get("count"))
}

func TestClient_BadRequestHintForInvalidFilterColumn(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"authorizations does not have a column named counts"}`))
	})

	_, err := c.GetView(context.Background(), "authorizations", "detail", nil)
	require.Error(t, err)
	assert.True(t, lcerr.HasCode(err, lcerr.CodeUpstreamBadRequest))
	assert.Contains(t, err.Error(), "not filters")
	assert.Contains(t, err.Error(), "does not have a column")
}

func TestClient_ForbiddenErrorCodes(t *testing.T) {
	tests := []struct {
		errorCode string
		contains  string
	}{
		{"403001", "field access denied"},
		{"403002", "filter not allowed"},
		{"403003", "program access denied"},
		{"", "unauthorized access"},
	}
	for _, tt := range tests {
		t.Run("code "+tt.errorCode, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error_code":"` + tt.errorCode + `"}`))
			})

			_, err := c.GetView(context.Background(), "authorizations", "detail", nil)
			require.Error(t, err)
			assert.True(t, lcerr.IsForbidden(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestClient_NotFoundNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetView(context.Background(), "nosuchview", "detail", nil)
	require.Error(t, err)
	assert.True(t, lcerr.IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ThrottleRetriedThenSurfaced(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetView(context.Background(), "authorizations", "detail", nil)
	require.Error(t, err)
	assert.True(t, lcerr.IsThrottled(err))
	assert.Equal(t, int32(throttleRetries+1), calls.Load())
}

func TestClient_ThrottleRecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"records":[],"count":0,"is_more":false}`))
	})

	_, err := c.GetView(context.Background(), "authorizations", "detail", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ViewSchema(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/views/authorizations/detail/schema", r.URL.Path)
		w.Write([]byte(`[{"field":"transaction_token","type":"string"},{"field":"transaction_amount","type":"number"}]`))
	})

	fields, err := c.ViewSchema(context.Background(), "authorizations", "detail")
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "transaction_token", fields[0].Name)
	assert.Equal(t, "number", fields[1].Type)
}

func TestClient_ListViews(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/views", r.URL.Path)
		w.Write([]byte(`{"records":[{"view":"authorizations","aggregations":["detail","day"]}]}`))
	})

	views, err := c.ListViews(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "authorizations", views[0].Name)
	assert.Contains(t, views[0].Aggregations, "day")
}

func TestClient_HealthTracksFailures(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Write([]byte(`{"records":[],"count":0,"is_more":false}`))
		case 2:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte(`{"records":[],"count":0,"is_more":false}`))
		}
	})

	_, err := c.GetView(context.Background(), "authorizations", "detail", nil)
	require.NoError(t, err)

	m := c.Health()
	assert.True(t, m.Available)
	assert.Zero(t, m.FailureCount)
	assert.Nil(t, m.LastFailureAt)
	assert.Equal(t, 1, m.WindowCalls)

	_, err = c.GetView(context.Background(), "authorizations", "detail", nil)
	require.Error(t, err)

	m = c.Health()
	assert.False(t, m.Available)
	assert.Equal(t, int64(1), m.FailureCount)
	require.NotNil(t, m.LastFailureAt)
	assert.Nil(t, m.LastThrottledAt)

	_, err = c.GetView(context.Background(), "authorizations", "detail", nil)
	require.NoError(t, err)

	m = c.Health()
	assert.True(t, m.Available)
	assert.Equal(t, int64(1), m.FailureCount)
	require.NotNil(t, m.LastFailureAt)
}

func TestClient_HealthTracksThrottles(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetView(context.Background(), "authorizations", "detail", nil)
	require.Error(t, err)

	m := c.Health()
	assert.False(t, m.Available)
	assert.Equal(t, int64(throttleRetries+1), m.FailureCount)
	require.NotNil(t, m.LastThrottledAt)
}
