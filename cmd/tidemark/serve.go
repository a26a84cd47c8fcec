// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tidemark-dev/tidemark/internal/server"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search, reindex and status over HTTP",
		Long: "Start the HTTP API. Routes under /api/ require the networking.api_token\n" +
			"bearer token when one is configured. The OpenAPI document is served at\n" +
			"/openapi.json.",
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "address to listen on (overrides networking.listen)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlag("networking.listen", cmd.Flags().Lookup("listen")); err != nil {
		return tmerr.Errorf(tmerr.CodeCLISetupFailure, "binding listen flag: %w", err)
	}

	app, err := wireFromViper(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	svc, err := server.NewServices(app.Indexer, app.Searcher, app.Embedder)
	if err != nil {
		return err
	}

	nc := app.Config.Networking
	srv, err := server.New(server.Config{
		ListenAddr:  nc.Listen,
		CORSOrigins: nc.CORSOrigins,
		APIToken:    nc.APIToken,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: nc.RateLimit.RequestsPerSecond,
			Burst:             nc.RateLimit.Burst,
		},
		Version: version,
	}, svc)
	if err != nil {
		return err
	}

	if nc.APIToken == "" {
		slog.Warn("no networking.api_token configured; /api routes are unauthenticated")
	}
	slog.Info("serving", "listen", nc.Listen, "data_dir", app.Config.DataDir)
	return srv.Start(cmd.Context())
}
