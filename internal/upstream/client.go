// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

// Package upstream talks to the transaction-reporting API. The upstream
// caps every response at a hard record limit and offers no offset
// pagination, so callers narrow date ranges instead of paging.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
	"github.com/ledgercache-dev/ledgercache/pkg/health"
)

// HardCap is the maximum number of records one call can return. A
// response at the cap means more data may exist beyond it.
const HardCap = 10000

// throttleRetries bounds how many times a 429 is retried before the
// throttle is surfaced to the caller.
const throttleRetries = 3

// Page is one upstream response: the records plus the pagination hints
// the API provides in place of an offset.
type Page struct {
	Records []map[string]any
	Count   int
	IsMore  bool
}

// Field is one column of a view schema.
type Field struct {
	Name string `json:"field"`
	Type string `json:"type"`
}

// ViewInfo describes one available view from the views listing.
type ViewInfo struct {
	Name         string   `json:"view"`
	Aggregations []string `json:"aggregations"`
}

// ClientConfig carries the connection settings for the upstream API.
type ClientConfig struct {
	BaseURL     string
	Program     string
	AppToken    string
	AccessToken string
	Timeout     time.Duration
}

// Client is a rate-limited upstream API client. All calls pass through
// the shared Limiter, so it is safe for concurrent use by fetch workers.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *Limiter
	log     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error

	healthMu        sync.Mutex
	failureCount    int64
	lastFailureAt   time.Time
	lastThrottledAt time.Time
	lastCallFailed  bool
}

// NewClient creates an upstream client gated by limiter.
func NewClient(cfg ClientConfig, limiter *Limiter, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     log,
		sleep:   sleepContext,
	}
}

// GetView fetches records from /views/{view}/{aggregation}. Params carry
// field selection, sorting, count, and filter expressions; the program is
// filled in from the client config when absent.
func (c *Client) GetView(ctx context.Context, view, aggregation string, params url.Values) (*Page, error) {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("program") == "" {
		params.Set("program", c.cfg.Program)
	}
	if params.Get("count") == "" {
		params.Set("count", fmt.Sprintf("%d", HardCap))
	}

	body, err := c.get(ctx, fmt.Sprintf("/views/%s/%s", view, aggregation), params)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Records []map[string]any `json:"records"`
		Count   int              `json:"count"`
		IsMore  bool             `json:"is_more"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, lcerr.Wrap(err, lcerr.CodeUpstreamFailure, "decoding view response",
			lcerr.FieldView(view))
	}

	page := &Page{Records: raw.Records, Count: raw.Count, IsMore: raw.IsMore}
	if page.Count == 0 {
		page.Count = len(page.Records)
	}
	return page, nil
}

// ViewSchema fetches the column list for a view and aggregation.
func (c *Client) ViewSchema(ctx context.Context, view, aggregation string) ([]Field, error) {
	params := url.Values{}
	params.Set("program", c.cfg.Program)

	body, err := c.get(ctx, fmt.Sprintf("/views/%s/%s/schema", view, aggregation), params)
	if err != nil {
		return nil, err
	}

	// The schema endpoint returns either a bare array or {"records": [...]}.
	var fields []Field
	if err := json.Unmarshal(body, &fields); err == nil && len(fields) > 0 {
		return fields, nil
	}
	var wrapped struct {
		Records []Field `json:"records"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, lcerr.Wrap(err, lcerr.CodeUpstreamFailure, "decoding schema response",
			lcerr.FieldView(view))
	}
	return wrapped.Records, nil
}

// ListViews fetches the available views and their aggregation levels.
func (c *Client) ListViews(ctx context.Context) ([]ViewInfo, error) {
	body, err := c.get(ctx, "/views", nil)
	if err != nil {
		return nil, err
	}

	var views []ViewInfo
	if err := json.Unmarshal(body, &views); err == nil && len(views) > 0 {
		return views, nil
	}
	var wrapped struct {
		Records []ViewInfo `json:"records"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, lcerr.Wrap(err, lcerr.CodeUpstreamFailure, "decoding views listing")
	}
	return wrapped.Records, nil
}

// get performs one rate-limited GET, retrying throttle responses with
// backoff before surfacing them.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= throttleRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 2 * time.Second
			c.log.Warn("upstream throttled, backing off",
				"endpoint", endpoint, "attempt", attempt, "backoff", backoff)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, lcerr.Wrap(err, lcerr.CodeUpstreamRateLimitTimeout,
					"cancelled during throttle backoff")
			}
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		body, err := c.doOnce(ctx, endpoint, params)
		if err == nil {
			c.recordSuccess()
			return body, nil
		}
		if !lcerr.IsThrottled(err) {
			c.recordFailure(false)
			return nil, err
		}
		c.recordFailure(true)
		lastErr = err
	}
	return nil, lastErr
}

// Health snapshots the client's observed upstream health.
func (c *Client) Health() health.Metrics {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	m := health.Metrics{
		FailureCount: c.failureCount,
		Available:    !c.lastCallFailed,
	}
	if c.limiter != nil {
		m.WindowCalls = c.limiter.InFlight()
	}
	if !c.lastFailureAt.IsZero() {
		t := c.lastFailureAt
		m.LastFailureAt = &t
	}
	if !c.lastThrottledAt.IsZero() {
		t := c.lastThrottledAt
		m.LastThrottledAt = &t
	}
	return m
}

func (c *Client) recordSuccess() {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.lastCallFailed = false
}

func (c *Client) recordFailure(throttled bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.failureCount++
	c.lastFailureAt = time.Now()
	c.lastCallFailed = true
	if throttled {
		c.lastThrottledAt = c.lastFailureAt
	}
}

func (c *Client) doOnce(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	u := strings.TrimSuffix(c.cfg.BaseURL, "/") + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, lcerr.Wrap(err, lcerr.CodeUpstreamFailure, "building upstream request")
	}
	req.SetBasicAuth(c.cfg.AppToken, c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, lcerr.Wrap(err, lcerr.CodeUpstreamFailure, "calling upstream",
			lcerr.Field("endpoint", endpoint))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, lcerr.Wrap(err, lcerr.CodeUpstreamFailure, "reading upstream response")
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}
	return nil, statusError(resp.StatusCode, body, endpoint)
}

// statusError maps an upstream error status to a coded error with the
// diagnostic hints the raw API messages lack.
func statusError(status int, body []byte, endpoint string) error {
	var payload struct {
		Message   string `json:"message"`
		ErrorCode string `json:"error_code"`
	}
	_ = json.Unmarshal(body, &payload)

	switch status {
	case http.StatusBadRequest:
		msg := "bad request: malformed query or filter parameters"
		if strings.Contains(payload.Message, "does not have a column") {
			msg += "; an invalid field name is being used as a filter. " +
				"Parameters like count, sort_by and program are query parameters, not filters; " +
				"only data field names belong in filters. " +
				"For date filtering use the date field name with an operator, e.g. transaction_timestamp >= 2026-01-01"
		}
		if payload.Message != "" {
			msg += " (upstream: " + payload.Message + ")"
		}
		return lcerr.New(lcerr.CodeUpstreamBadRequest, msg, lcerr.Field("endpoint", endpoint))

	case http.StatusForbidden:
		var msg string
		switch payload.ErrorCode {
		case "403001":
			msg = "forbidden: field access denied"
		case "403002":
			msg = "forbidden: filter not allowed"
		case "403003":
			msg = "forbidden: program access denied"
		default:
			msg = "forbidden: unauthorized access"
		}
		return lcerr.New(lcerr.CodeUpstreamForbidden, msg,
			lcerr.Field("endpoint", endpoint), lcerr.Field("error_code", payload.ErrorCode))

	case http.StatusNotFound:
		return lcerr.New(lcerr.CodeUpstreamNotFound,
			"not found: malformed URL or endpoint does not exist",
			lcerr.Field("endpoint", endpoint))

	case http.StatusTooManyRequests:
		return lcerr.New(lcerr.CodeUpstreamThrottled,
			"rate limit exceeded on upstream", lcerr.Field("endpoint", endpoint))

	default:
		msg := payload.Message
		if msg == "" {
			msg = string(body)
		}
		return lcerr.New(lcerr.CodeUpstreamFailure,
			fmt.Sprintf("unexpected upstream status %d: %s", status, msg),
			lcerr.Field("endpoint", endpoint))
	}
}
