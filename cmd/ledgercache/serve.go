// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ledgercache-dev/ledgercache/internal/server"
	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP API",
		Long:  "Load configuration, open the cache, and serve the sync and query API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	log := newLogger(cmd)

	app, err := wireApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	srv, err := server.New(server.Config{
		ListenAddr:     cfg.Server.Listen,
		CORSOrigins:    cfg.Server.CORSOrigins,
		UpstreamHealth: app.Upstream.Health,
	})
	if err != nil {
		return lcerr.Wrapf(err, lcerr.CodeServerStartFailure, "creating server")
	}
	srv.RegisterServices(&server.Services{
		Sync:  app.Orchestrator,
		Query: app.Query,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("serving", "listen", cfg.Server.Listen, "data_dir", cfg.Storage.Path)
	return srv.Start(ctx)
}
