// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all cached records, embeddings, and sync state",
		Args:  cobra.NoArgs,
		RunE:  runClear,
	}

	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")

	return cmd
}

func runClear(cmd *cobra.Command, _ []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return lcerr.New(lcerr.CodeCLIInputInvalid,
			"clear wipes all cached data; re-run with --yes to confirm")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := wireApp(cfg, newLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	if err := app.Query.Clear(cmd.Context()); err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
	return err
}
