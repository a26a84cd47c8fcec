// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tidemark-dev/tidemark/internal/search"
	"github.com/tidemark-dev/tidemark/internal/store"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Find the entries closest in meaning to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().IntP("limit", "n", 0, "maximum number of results (default search.default_limit)")
	cmd.Flags().String("filter", "", "TiddlyWiki filter (accepted, not yet applied)")
	cmd.Flags().Bool("json", false, "print results as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	filter, _ := cmd.Flags().GetString("filter")
	asJSON, _ := cmd.Flags().GetBool("json")
	query := strings.Join(args, " ")

	app, err := wireFromViper(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	results, err := app.Searcher.Search(cmd.Context(), search.Query{
		Text:   query,
		Limit:  limit,
		Filter: filter,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if results == nil {
			results = []store.SearchResult{}
		}
		return writeJSON(out, struct {
			Query   string               `json:"query"`
			Results []store.SearchResult `json:"results"`
		}{query, results})
	}
	printResults(out, query, results)
	return nil
}
