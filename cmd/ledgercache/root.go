// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ledgercache-dev/ledgercache/internal/config"
	"github.com/ledgercache-dev/ledgercache/internal/secrets"
)

// NewRootCmd creates the root ledgercache command with all subcommands
// registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgercache",
		Short:         "ledgercache: local cache and search over a transaction reporting API",
		Long:          "LedgerCache syncs records from a rate-limited transaction reporting API into a local SQLite cache and serves exact and semantic queries over it.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "override data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newQueryCmd(),
		newViewsCmd(),
		newStatsCmd(),
		newClearCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig resolves the config file, loads it with env and default
// fallbacks, and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = discoverConfig()
	}
	if path != "" {
		config.WarnInsecurePermissions(path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}

	// Credentials may be keyring://<name> references.
	store := secretStoreFactory()
	if err := secrets.ResolveAll(store,
		&cfg.Upstream.AppToken,
		&cfg.Upstream.AccessToken,
		&cfg.Embedding.APIKey,
	); err != nil {
		return nil, err
	}

	return cfg, nil
}

// discoverConfig looks for ledgercache.yaml in the standard locations,
// bootstrapping a commented default into ~/.config/ledgercache/ when none
// exists. An empty return means run on defaults and env vars alone.
func discoverConfig() string {
	candidates := []string{"ledgercache.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "ledgercache", "ledgercache.yaml"))
	}
	candidates = append(candidates, "/etc/ledgercache/ledgercache.yaml")

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}

	return config.BootstrapConfig()
}

// newLogger builds the process logger. Verbose lowers the level to debug.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
