// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/ledgercache-dev/ledgercache/pkg/types"
)

func newViewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views [view]",
		Short: "List upstream views, or show one view's schema",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runViews,
	}

	cmd.Flags().String("aggregation", "detail", "aggregation level for the schema lookup")

	return cmd
}

func runViews(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := wireApp(cfg, newLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	if len(args) == 0 {
		views, err := app.Upstream.ListViews(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, views)
	}

	rawAgg, _ := cmd.Flags().GetString("aggregation")
	aggregation, err := types.ParseAggregation(rawAgg)
	if err != nil {
		return err
	}
	schema, err := app.Upstream.ViewSchema(cmd.Context(), args[0], aggregation.String())
	if err != nil {
		return err
	}
	return printJSON(cmd, schema)
}
