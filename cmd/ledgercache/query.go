// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/ledgercache-dev/ledgercache/internal/store"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the local cache",
	}

	cmd.AddCommand(
		newQueryExactCmd(),
		newQuerySimilarCmd(),
		newQuerySimilarToCmd(),
	)

	return cmd
}

func newQueryExactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exact",
		Short: "Filter cached records by field values",
		Long: `Filter cached records with exact comparisons. Filters on indexed
fields use SQL directly; anything else is matched against the stored
payload JSON.`,
		Args: cobra.NoArgs,
		RunE: runQueryExact,
	}

	cmd.Flags().StringArray("filter", nil, "filter expression, e.g. state=COMPLETION or amount>=100 (repeatable)")
	cmd.Flags().String("order-by", "", "sort field, prefix with - for descending")
	cmd.Flags().Int("limit", 0, "maximum records to return (default 100)")
	cmd.Flags().Int("offset", 0, "records to skip")

	return cmd
}

func runQueryExact(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := wireApp(cfg, newLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	exprs, _ := cmd.Flags().GetStringArray("filter")
	filters, err := parseFilters(exprs)
	if err != nil {
		return err
	}

	q := store.RecordQuery{Filters: filters}
	q.OrderBy, _ = cmd.Flags().GetString("order-by")
	q.Limit, _ = cmd.Flags().GetInt("limit")
	q.Offset, _ = cmd.Flags().GetInt("offset")

	page, err := app.Query.Exact(cmd.Context(), q)
	if err != nil {
		return err
	}

	return printJSON(cmd, page)
}

func newQuerySimilarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar <text>",
		Short: "Search cached records by natural-language similarity",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuerySimilar,
	}

	cmd.Flags().Int("k", 0, "number of results (default 10)")
	cmd.Flags().StringArray("filter", nil, "metadata pre-filter, e.g. network=VISA (repeatable)")

	return cmd
}

func runQuerySimilar(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := wireApp(cfg, newLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	exprs, _ := cmd.Flags().GetStringArray("filter")
	filters, err := parseFilters(exprs)
	if err != nil {
		return err
	}
	k, _ := cmd.Flags().GetInt("k")

	res, err := app.Query.Similar(cmd.Context(), args[0], k, filters)
	if err != nil {
		return err
	}

	return printJSON(cmd, res)
}

func newQuerySimilarToCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar-to <token>",
		Short: "Find records similar to an already-cached record",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuerySimilarTo,
	}

	cmd.Flags().Int("k", 0, "number of results (default 10)")

	return cmd
}

func runQuerySimilarTo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := wireApp(cfg, newLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	k, _ := cmd.Flags().GetInt("k")

	res, err := app.Query.SimilarTo(cmd.Context(), args[0], k, nil)
	if err != nil {
		return err
	}

	return printJSON(cmd, res)
}
