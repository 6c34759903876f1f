// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package main

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	syncpkg "github.com/ledgercache-dev/ledgercache/internal/sync"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <view>",
		Short: "Sync records from the upstream into the local cache",
		Long: `Fetch records from the given upstream view, embed them, and commit
them to the local cache. Large date ranges are split into chunks that fit
under the upstream per-call cap, and a re-run resumes where a partial run
left off.`,
		Args: cobra.ExactArgs(1),
		RunE: runSync,
	}

	cmd.Flags().String("aggregation", "", "aggregation level (default detail)")
	cmd.Flags().StringSlice("fields", nil, "subset of columns to fetch")
	cmd.Flags().StringArray("filter", nil, "filter expression, e.g. state=COMPLETION or amount>=100 (repeatable)")
	cmd.Flags().String("date-field", "", "timestamp field used for date chunking")
	cmd.Flags().String("start", "", "inclusive window start (YYYY-MM-DD or RFC3339)")
	cmd.Flags().String("end", "", "exclusive window end (YYYY-MM-DD or RFC3339)")
	cmd.Flags().Int("max-records", 0, "stop after this many committed records")
	cmd.Flags().Duration("timeout", 0, "overall run timeout")
	cmd.Flags().Bool("abandon-in-flight", false, "cancel in-flight fetches at the timeout instead of letting them finish")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := newLogger(cmd)

	app, err := wireApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	q := syncpkg.Query{View: args[0]}
	q.Aggregation, _ = cmd.Flags().GetString("aggregation")
	q.Fields, _ = cmd.Flags().GetStringSlice("fields")
	q.DateField, _ = cmd.Flags().GetString("date-field")

	exprs, _ := cmd.Flags().GetStringArray("filter")
	if q.Filters, err = parseFilters(exprs); err != nil {
		return err
	}

	if q.Start, err = parseDateFlag(cmd, "start"); err != nil {
		return err
	}
	if q.End, err = parseDateFlag(cmd, "end"); err != nil {
		return err
	}

	opts := app.syncOptions()
	opts.MaxRecords, _ = cmd.Flags().GetInt("max-records")
	opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
	opts.AbandonInFlight, _ = cmd.Flags().GetBool("abandon-in-flight")

	report, err := app.Orchestrator.Sync(cmd.Context(), q, opts)
	if err != nil {
		return err
	}

	return printJSON(cmd, report)
}

// filterOps in longest-first order so ">=" wins over ">".
var filterOps = []string{">=", "<=", "!=", ">", "<", "~", "="}

// parseFilters turns key<op>value expressions into the filter map the
// query layer expects. "~" means a LIKE match, bare "=" equality.
func parseFilters(exprs []string) (map[string]any, error) {
	if len(exprs) == 0 {
		return nil, nil
	}

	filters := make(map[string]any, len(exprs))
	for _, expr := range exprs {
		key, op, val, ok := splitFilter(expr)
		if !ok {
			return nil, lcerr.Errorf(lcerr.CodeCLIInputInvalid,
				"invalid filter %q: expected key=value or key<op>value", expr)
		}
		switch op {
		case "=":
			filters[key] = coerceValue(val)
		case "~":
			filters[key] = map[string]any{"like": val}
		default:
			filters[key] = map[string]any{op: coerceValue(val)}
		}
	}
	return filters, nil
}

func splitFilter(expr string) (key, op, val string, ok bool) {
	for _, candidate := range filterOps {
		if i := strings.Index(expr, candidate); i > 0 {
			return strings.TrimSpace(expr[:i]), candidate, strings.TrimSpace(expr[i+len(candidate):]), true
		}
	}
	return "", "", "", false
}

// coerceValue keeps numeric filter values numeric so range operators
// compare numbers rather than strings.
func coerceValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

var dateLayouts = []string{"2006-01-02", time.RFC3339}

func parseDateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, lcerr.Errorf(lcerr.CodeCLIInputInvalid,
		"invalid --%s %q: expected YYYY-MM-DD or RFC3339", name, s)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
