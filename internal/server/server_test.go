// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgercache-dev/ledgercache/internal/query"
	"github.com/ledgercache-dev/ledgercache/internal/store"
	syncpkg "github.com/ledgercache-dev/ledgercache/internal/sync"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
	"github.com/ledgercache-dev/ledgercache/pkg/health"
)

type stubSyncer struct {
	lastQuery syncpkg.Query
	lastOpts  syncpkg.Options
	report    *syncpkg.Report
	err       error
}

func (s *stubSyncer) Sync(_ context.Context, q syncpkg.Query, opts syncpkg.Options) (*syncpkg.Report, error) {
	s.lastQuery = q
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

type stubQuerier struct {
	page    *store.RecordPage
	similar *query.SimilarResult
	stats   *query.Stats
	err     error

	lastText    string
	lastToken   string
	lastK       int
	lastExact   store.RecordQuery
	clearCalled bool
}

func (s *stubQuerier) Exact(_ context.Context, q store.RecordQuery) (*store.RecordPage, error) {
	s.lastExact = q
	if s.err != nil {
		return nil, s.err
	}
	return s.page, nil
}

func (s *stubQuerier) Similar(_ context.Context, text string, k int, _ map[string]any) (*query.SimilarResult, error) {
	s.lastText = text
	s.lastK = k
	if s.err != nil {
		return nil, s.err
	}
	return s.similar, nil
}

func (s *stubQuerier) SimilarTo(_ context.Context, token string, k int, _ map[string]any) (*query.SimilarResult, error) {
	s.lastToken = token
	s.lastK = k
	if s.err != nil {
		return nil, s.err
	}
	return s.similar, nil
}

func (s *stubQuerier) Stats(_ context.Context) (*query.Stats, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stats, nil
}

func (s *stubQuerier) Clear(_ context.Context) error {
	s.clearCalled = true
	return s.err
}

func newTestServer(t *testing.T, syncer Syncer, querier Querier) *Server {
	t.Helper()

	srv, err := New(Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)

	srv.RegisterServices(&Services{Sync: syncer, Query: querier})
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubSyncer{}, &stubQuerier{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestSyncEndpoint(t *testing.T) {
	syncer := &stubSyncer{report: &syncpkg.Report{
		Status:    syncpkg.StatusCompleted,
		Committed: 42,
	}}
	srv := newTestServer(t, syncer, &stubQuerier{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/sync", map[string]any{
		"view":            "authorizations",
		"date_field":      "transaction_timestamp",
		"start":           "2026-01-01T00:00:00Z",
		"end":             "2026-02-01T00:00:00Z",
		"timeout_seconds": 120,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report syncpkg.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, syncpkg.StatusCompleted, report.Status)
	assert.Equal(t, 42, report.Committed)

	assert.Equal(t, "authorizations", syncer.lastQuery.View)
	assert.Equal(t, "transaction_timestamp", syncer.lastQuery.DateField)
	assert.Equal(t, 2*time.Minute, syncer.lastOpts.Timeout)
}

func TestSyncEndpointValidationError(t *testing.T) {
	syncer := &stubSyncer{err: lcerr.New(lcerr.CodeSchemaFieldInvalid, "unknown field \"amuont\"")}
	srv := newTestServer(t, syncer, &stubQuerier{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/sync", map[string]any{
		"view": "authorizations",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncEndpointForbidden(t *testing.T) {
	syncer := &stubSyncer{err: lcerr.New(lcerr.CodeUpstreamForbidden, "role lacks access")}
	srv := newTestServer(t, syncer, &stubQuerier{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/sync", map[string]any{
		"view": "authorizations",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExactQueryEndpoint(t *testing.T) {
	querier := &stubQuerier{page: &store.RecordPage{
		Total: 2,
		Records: []*store.Record{
			{Token: "txn-1", View: "authorizations", Amount: 12.5},
			{Token: "txn-2", View: "authorizations", Amount: 99},
		},
	}}
	srv := newTestServer(t, &stubSyncer{}, querier)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/query/exact", map[string]any{
		"filters":  map[string]any{"view": "authorizations"},
		"order_by": "-amount",
		"limit":    50,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page store.RecordPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Records, 2)

	assert.Equal(t, "-amount", querier.lastExact.OrderBy)
	assert.Equal(t, 50, querier.lastExact.Limit)
	assert.Equal(t, "authorizations", querier.lastExact.Filters["view"])
}

func TestSimilarQueryEndpoint(t *testing.T) {
	querier := &stubQuerier{similar: &query.SimilarResult{
		Results: []query.RankedRecord{
			{Record: &store.Record{Token: "txn-1"}, Score: 0.91},
		},
	}}
	srv := newTestServer(t, &stubSyncer{}, querier)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/query/similar", map[string]any{
		"text": "coffee purchases",
		"k":    5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res query.SimilarResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "txn-1", res.Results[0].Record.Token)

	assert.Equal(t, "coffee purchases", querier.lastText)
	assert.Equal(t, 5, querier.lastK)
}

func TestSimilarToEndpoint(t *testing.T) {
	querier := &stubQuerier{similar: &query.SimilarResult{
		Results: []query.RankedRecord{
			{Record: &store.Record{Token: "txn-2"}, Score: 0.87},
		},
	}}
	srv := newTestServer(t, &stubSyncer{}, querier)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/records/txn-1/similar?k=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "txn-1", querier.lastToken)
	assert.Equal(t, 3, querier.lastK)
}

func TestSimilarToEndpointNotFound(t *testing.T) {
	querier := &stubQuerier{err: lcerr.New(lcerr.CodeStoreRecordNotFound, "record not in vector index")}
	srv := newTestServer(t, &stubSyncer{}, querier)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/records/missing/similar", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	querier := &stubQuerier{stats: &query.Stats{
		RecordCount:    120,
		EmbeddingCount: 118,
	}}
	srv := newTestServer(t, &stubSyncer{}, querier)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stats query.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 120, stats.RecordCount)
	assert.Equal(t, 118, stats.EmbeddingCount)
}

func TestClearEndpoint(t *testing.T) {
	querier := &stubQuerier{}
	srv := newTestServer(t, &stubSyncer{}, querier)

	rec := doJSON(t, srv.Handler(), http.MethodDelete, "/api/v1/records", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, querier.clearCalled)

	var body ClearBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Cleared)
}

func TestNewRequiresListenAddr(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestHealthEndpointIncludesUpstream(t *testing.T) {
	srv, err := New(Config{
		ListenAddr: "127.0.0.1:0",
		UpstreamHealth: func() health.Metrics {
			return health.Metrics{FailureCount: 3, Available: true, WindowCalls: 12}
		},
	})
	require.NoError(t, err)
	srv.RegisterServices(&Services{Sync: &stubSyncer{}, Query: &stubQuerier{}})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Upstream)
	assert.Equal(t, int64(3), body.Upstream.FailureCount)
	assert.Equal(t, 12, body.Upstream.WindowCalls)
	assert.True(t, body.Upstream.Available)
}
