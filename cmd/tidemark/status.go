// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidemark-dev/tidemark/internal/indexer"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics",
		Long:  "Report vector and sync-state counts from the local index without contacting the wiki.",
		RunE:  runStatus,
	}

	cmd.Flags().Bool("json", false, "print statistics as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	app, err := wireFromViper(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	sum, err := app.Indexer.Reconcile(cmd.Context(), indexer.Options{StatusOnly: true})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, sum.Stats)
	}
	_, _ = fmt.Fprintln(out, titleStyle.Render("Index at "+app.Config.DataDir))
	printStats(out, sum.Stats)
	printBackend(out, app.Embedder.Metrics())
	return nil
}
