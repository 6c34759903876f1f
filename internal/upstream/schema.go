// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package upstream

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

// SchemaSource provides view schemas; satisfied by *Client.
type SchemaSource interface {
	ViewSchema(ctx context.Context, view, aggregation string) ([]Field, error)
}

// dateRangeViews are the views that accept date-range filtering.
var dateRangeViews = map[string]bool{
	"authorizations":            true,
	"settlements":               true,
	"clearings":                 true,
	"declines":                  true,
	"loads":                     true,
	"programbalances":           true,
	"programbalancessettlement": true,
	"activitybalances":          true,
	"chargebacks":               true,
}

// maxSuggestionDistance is the edit distance beyond which a field name is
// not offered as a correction.
const maxSuggestionDistance = 4

type cachedSchema struct {
	fields    map[string]bool
	names     []string
	fetchedAt time.Time
}

// SchemaGuard validates field and filter names against cached view
// schemas before a fetch goes out. The cache is lazily populated from the
// upstream schema call and refreshed on a TTL; validation itself is a
// pure lookup.
type SchemaGuard struct {
	source SchemaSource
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cachedSchema

	now func() time.Time
}

// NewSchemaGuard creates a guard with the given cache TTL.
func NewSchemaGuard(source SchemaSource, ttl time.Duration) *SchemaGuard {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SchemaGuard{
		source: source,
		ttl:    ttl,
		cache:  map[string]cachedSchema{},
		now:    time.Now,
	}
}

// Validate checks that every requested field and filter key exists in the
// view schema, and that a date-ranged query targets a view that supports
// it. Unknown names come back with the closest known name attached.
func (g *SchemaGuard) Validate(ctx context.Context, view, aggregation string, fields, filterKeys []string, withDateRange bool) error {
	if withDateRange && !dateRangeViews[view] {
		supported := make([]string, 0, len(dateRangeViews))
		for v := range dateRangeViews {
			supported = append(supported, v)
		}
		sort.Strings(supported)
		return lcerr.New(lcerr.CodeSchemaDateRangeInvalid,
			fmt.Sprintf("view %q does not support date-range filtering; supported views: %s",
				view, strings.Join(supported, ", ")),
			lcerr.FieldView(view))
	}

	if len(fields) == 0 && len(filterKeys) == 0 {
		return nil
	}

	schema, err := g.schemaFor(ctx, view, aggregation)
	if err != nil {
		return err
	}

	var problems []string
	for _, name := range fields {
		if !schema.fields[name] {
			problems = append(problems, describeUnknown(name, "field", schema.names))
		}
	}
	for _, name := range filterKeys {
		if !schema.fields[name] {
			problems = append(problems, describeUnknown(name, "filter", schema.names))
		}
	}

	if len(problems) > 0 {
		return lcerr.New(lcerr.CodeSchemaFieldInvalid,
			fmt.Sprintf("/%s/%s does not have the following column(s): %s",
				view, aggregation, strings.Join(problems, "; ")),
			lcerr.FieldView(view))
	}
	return nil
}

// Invalidate drops the cached schema for a view so the next Validate
// refetches it.
func (g *SchemaGuard) Invalidate(view, aggregation string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, view+":"+aggregation)
}

func (g *SchemaGuard) schemaFor(ctx context.Context, view, aggregation string) (cachedSchema, error) {
	key := view + ":" + aggregation

	g.mu.Lock()
	cached, ok := g.cache[key]
	g.mu.Unlock()
	if ok && g.now().Sub(cached.fetchedAt) < g.ttl {
		return cached, nil
	}

	fields, err := g.source.ViewSchema(ctx, view, aggregation)
	if err != nil {
		// A stale schema beats failing the whole validation.
		if ok {
			return cached, nil
		}
		return cachedSchema{}, lcerr.Wrap(err, lcerr.CodeSchemaFetchFailure,
			"fetching schema for validation", lcerr.FieldView(view))
	}

	fresh := cachedSchema{
		fields:    make(map[string]bool, len(fields)),
		names:     make([]string, 0, len(fields)),
		fetchedAt: g.now(),
	}
	for _, f := range fields {
		fresh.fields[f.Name] = true
		fresh.names = append(fresh.names, f.Name)
	}
	sort.Strings(fresh.names)

	g.mu.Lock()
	g.cache[key] = fresh
	g.mu.Unlock()

	return fresh, nil
}

func describeUnknown(name, kind string, known []string) string {
	desc := fmt.Sprintf("%q (%s)", name, kind)
	if suggestion := closestName(name, known); suggestion != "" {
		desc += fmt.Sprintf(", did you mean %q?", suggestion)
	}
	return desc
}

// closestName returns the known name with the smallest edit distance
// from name, or "" when nothing is close enough.
func closestName(name string, known []string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1
	for _, candidate := range known {
		d := editDistance(name, candidate)
		if d < bestDist {
			best = candidate
			bestDist = d
		}
	}
	return best
}

// editDistance is the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
