// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidemark-dev/tidemark/internal/indexer"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Reconcile the vector index with the wiki",
		Long: "Fetch the entry listing from the TiddlyWeb server, embed new and changed\n" +
			"entries, and remove entries that no longer exist. Entries that failed are\n" +
			"retried once indexing.retry_after has passed.",
		RunE: runIndex,
	}

	cmd.Flags().Bool("force", false, "re-index every entry regardless of sync state")
	cmd.Flags().Bool("status", false, "report index statistics without indexing")
	cmd.Flags().String("filter", "", "TiddlyWiki filter narrowing the listing (disables deletions)")
	cmd.Flags().Bool("json", false, "print the summary as JSON")

	return cmd
}

func runIndex(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")
	statusOnly, _ := cmd.Flags().GetBool("status")
	filter, _ := cmd.Flags().GetString("filter")
	asJSON, _ := cmd.Flags().GetBool("json")

	app, err := wireFromViper(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	sum, runErr := app.Indexer.Reconcile(cmd.Context(), indexer.Options{
		Force:      force,
		StatusOnly: statusOnly,
		Filter:     filter,
	})
	// A cancelled run still reports what it finished.
	if runErr != nil && !tmerr.HasCode(runErr, tmerr.CodeIndexerCanceled) {
		return runErr
	}

	out := cmd.OutOrStdout()
	switch {
	case sum == nil:
	case asJSON:
		if err := writeJSON(out, sum); err != nil {
			return err
		}
	case statusOnly:
		printStats(out, sum.Stats)
	default:
		printSummary(out, sum)
	}

	if runErr != nil {
		return runErr
	}
	if sum != nil && sum.Errors > 0 && !asJSON {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render("failed entries are retried on a later run"))
	}
	return nil
}
