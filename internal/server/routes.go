// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ledgercache-dev/ledgercache/internal/query"
	"github.com/ledgercache-dev/ledgercache/internal/store"
	syncpkg "github.com/ledgercache-dev/ledgercache/internal/sync"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

// RegisterServices sets the service dependencies and registers the REST
// routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "run-sync",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync",
		Summary:     "Sync records from the upstream into the local cache",
		Tags:        []string{"sync"},
	}, s.handleSync)

	huma.Register(s.api, huma.Operation{
		OperationID: "query-exact",
		Method:      http.MethodPost,
		Path:        "/api/v1/query/exact",
		Summary:     "Filter cached records by field values",
		Tags:        []string{"query"},
	}, s.handleQueryExact)

	huma.Register(s.api, huma.Operation{
		OperationID: "query-similar",
		Method:      http.MethodPost,
		Path:        "/api/v1/query/similar",
		Summary:     "Search cached records by natural-language similarity",
		Tags:        []string{"query"},
	}, s.handleQuerySimilar)

	huma.Register(s.api, huma.Operation{
		OperationID: "find-similar-to",
		Method:      http.MethodGet,
		Path:        "/api/v1/records/{token}/similar",
		Summary:     "Find records similar to an already-cached record",
		Tags:        []string{"query"},
	}, s.handleSimilarTo)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/stats",
		Summary:     "Cache statistics",
		Tags:        []string{"system"},
	}, s.handleStats)

	huma.Register(s.api, huma.Operation{
		OperationID: "clear-cache",
		Method:      http.MethodDelete,
		Path:        "/api/v1/records",
		Summary:     "Delete all cached records, embeddings, and sync state",
		Tags:        []string{"system"},
	}, s.handleClear)
}

// SyncRequestBody describes one sync run.
type SyncRequestBody struct {
	View        string         `json:"view" example:"authorizations" doc:"Upstream view to sync"`
	Aggregation string         `json:"aggregation,omitempty" example:"detail" doc:"Aggregation level, defaults to detail"`
	Fields      []string       `json:"fields,omitempty" doc:"Subset of columns to fetch"`
	Filters     map[string]any `json:"filters,omitempty" doc:"Upstream filter expressions by field name"`
	DateField   string         `json:"date_field,omitempty" example:"transaction_timestamp" doc:"Timestamp field used for date chunking"`
	Start       time.Time      `json:"start,omitempty" doc:"Inclusive window start"`
	End         time.Time      `json:"end,omitempty" doc:"Exclusive window end"`
	MaxRecords  int            `json:"max_records,omitempty" doc:"Stop after this many committed records"`
	TimeoutSecs int            `json:"timeout_seconds,omitempty" doc:"Overall run timeout"`
}

type syncInput struct {
	Body SyncRequestBody
}

type syncOutput struct {
	Body syncpkg.Report
}

func (s *Server) handleSync(ctx context.Context, in *syncInput) (*syncOutput, error) {
	q := syncpkg.Query{
		View:        in.Body.View,
		Aggregation: in.Body.Aggregation,
		Fields:      in.Body.Fields,
		Filters:     in.Body.Filters,
		DateField:   in.Body.DateField,
		Start:       in.Body.Start,
		End:         in.Body.End,
	}
	opts := syncpkg.Options{
		MaxRecords: in.Body.MaxRecords,
		Timeout:    time.Duration(in.Body.TimeoutSecs) * time.Second,
	}

	report, err := s.services.Sync.Sync(ctx, q, opts)
	if err != nil {
		return nil, humaError(err, "running sync")
	}
	return &syncOutput{Body: *report}, nil
}

// ExactQueryBody is a filter query against the relational store.
type ExactQueryBody struct {
	Filters map[string]any `json:"filters,omitempty" doc:"Field filters; values may be plain (equality) or operator maps like {\">\": 100}"`
	OrderBy string         `json:"order_by,omitempty" example:"-amount" doc:"Sort field, prefix with - for descending"`
	Limit   int            `json:"limit,omitempty" example:"100"`
	Offset  int            `json:"offset,omitempty"`
}

type exactInput struct {
	Body ExactQueryBody
}

type exactOutput struct {
	Body store.RecordPage
}

func (s *Server) handleQueryExact(ctx context.Context, in *exactInput) (*exactOutput, error) {
	page, err := s.services.Query.Exact(ctx, store.RecordQuery{
		Filters: in.Body.Filters,
		OrderBy: in.Body.OrderBy,
		Limit:   in.Body.Limit,
		Offset:  in.Body.Offset,
	})
	if err != nil {
		return nil, humaError(err, "running exact query")
	}
	return &exactOutput{Body: *page}, nil
}

// SimilarQueryBody is a natural-language similarity query.
type SimilarQueryBody struct {
	Text    string         `json:"text" example:"coffee purchases" doc:"Query text"`
	K       int            `json:"k,omitempty" example:"10" doc:"Number of results"`
	Filters map[string]any `json:"filters,omitempty" doc:"Metadata pre-filters applied before ranking"`
}

type similarInput struct {
	Body SimilarQueryBody
}

type similarOutput struct {
	Body query.SimilarResult
}

func (s *Server) handleQuerySimilar(ctx context.Context, in *similarInput) (*similarOutput, error) {
	res, err := s.services.Query.Similar(ctx, in.Body.Text, in.Body.K, in.Body.Filters)
	if err != nil {
		return nil, humaError(err, "running similarity query")
	}
	return &similarOutput{Body: *res}, nil
}

type similarToInput struct {
	Token string `path:"token" doc:"Reference record token"`
	K     int    `query:"k" doc:"Number of results, defaults to 10"`
}

func (s *Server) handleSimilarTo(ctx context.Context, in *similarToInput) (*similarOutput, error) {
	res, err := s.services.Query.SimilarTo(ctx, in.Token, in.K, nil)
	if err != nil {
		return nil, humaError(err, "finding similar records")
	}
	return &similarOutput{Body: *res}, nil
}

type statsOutput struct {
	Body query.Stats
}

func (s *Server) handleStats(ctx context.Context, _ *struct{}) (*statsOutput, error) {
	stats, err := s.services.Query.Stats(ctx)
	if err != nil {
		return nil, humaError(err, "reading stats")
	}
	return &statsOutput{Body: *stats}, nil
}

// ClearBody confirms what was wiped.
type ClearBody struct {
	Cleared bool `json:"cleared"`
}

type clearOutput struct {
	Body ClearBody
}

func (s *Server) handleClear(ctx context.Context, _ *struct{}) (*clearOutput, error) {
	if err := s.services.Query.Clear(ctx); err != nil {
		return nil, humaError(err, "clearing cache")
	}
	return &clearOutput{Body: ClearBody{Cleared: true}}, nil
}

// humaError maps a coded error to the matching HTTP error response.
func humaError(err error, msg string) error {
	switch lcerr.HTTPStatus(err) {
	case http.StatusBadRequest:
		return huma.Error400BadRequest(msg, err)
	case http.StatusForbidden:
		return huma.Error403Forbidden(msg, err)
	case http.StatusNotFound:
		return huma.Error404NotFound(msg, err)
	case http.StatusTooManyRequests:
		return huma.Error429TooManyRequests(msg, err)
	case http.StatusGatewayTimeout:
		return huma.Error504GatewayTimeout(msg, err)
	case http.StatusBadGateway:
		return huma.Error502BadGateway(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
