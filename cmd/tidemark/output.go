// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/tidemark-dev/tidemark/internal/indexer"
	"github.com/tidemark-dev/tidemark/internal/store"
	"github.com/tidemark-dev/tidemark/pkg/health"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStats(w io.Writer, stats store.Stats) {
	_, _ = fmt.Fprintf(w, "%-20s %d\n", "Vectors:", stats.TotalVectors)
	_, _ = fmt.Fprintf(w, "%-20s %d\n", "Synced entries:", stats.TotalSyncedEntries)

	states := make([]string, 0, len(stats.CountsByStatus))
	for s := range stats.CountsByStatus {
		states = append(states, string(s))
	}
	slices.Sort(states)
	for _, s := range states {
		_, _ = fmt.Fprintf(w, "  %-18s %d\n", s+":", stats.CountsByStatus[store.SyncState(s)])
	}
}

func printSummary(w io.Writer, sum *indexer.Summary) {
	_, _ = fmt.Fprintln(w, titleStyle.Render("Reconciliation "+sum.RunID))
	_, _ = fmt.Fprintf(w, "%-20s %s\n", "Indexed:", successStyle.Render(fmt.Sprint(sum.NewlyIndexed)))
	_, _ = fmt.Fprintf(w, "%-20s %d\n", "Empty:", sum.Empty)
	_, _ = fmt.Fprintf(w, "%-20s %d\n", "Deleted:", sum.Deleted)
	errCount := fmt.Sprint(sum.Errors)
	if sum.Errors > 0 {
		errCount = errorStyle.Render(errCount)
	}
	_, _ = fmt.Fprintf(w, "%-20s %s\n", "Errors:", errCount)
	_, _ = fmt.Fprintf(w, "%-20s %s\n", "Duration:", sum.Duration.Round(time.Millisecond))
	for _, f := range sum.Failures {
		_, _ = fmt.Fprintf(w, "  %s %s\n", errorStyle.Render(f.Title+":"), dimStyle.Render(f.Error))
	}
	printStats(w, sum.Stats)
}

func printResults(w io.Writer, query string, results []store.SearchResult) {
	if len(results) == 0 {
		_, _ = fmt.Fprintf(w, "No results for %q.\n", query)
		return
	}
	for i, r := range results {
		_, _ = fmt.Fprintf(w, "%s %s %s\n",
			dimStyle.Render(fmt.Sprintf("%2d.", i+1)),
			selectedStyle.Render(r.Title),
			dimStyle.Render(fmt.Sprintf("(distance %.4f)", r.Distance)),
		)
		if len(r.Meta.Tags) > 0 {
			_, _ = fmt.Fprintf(w, "    %s\n", promptStyle.Render("tags: "+strings.Join(r.Meta.Tags, ", ")))
		}
		_, _ = fmt.Fprintf(w, "    %s\n", snippet(r.Text, 160))
	}
}

func printBackend(w io.Writer, m health.Metrics) {
	state := successStyle.Render("available")
	if !m.Available {
		state = errorStyle.Render("cooling down")
		if m.CooldownUntil != nil {
			state += dimStyle.Render(" until " + m.CooldownUntil.Format("15:04:05"))
		}
	}
	_, _ = fmt.Fprintf(w, "%-20s %s (%s)\n", "Embedding:", m.Backend, state)
	if m.LastError != "" {
		_, _ = fmt.Fprintf(w, "%-20s %s\n", "Last error:", dimStyle.Render(m.LastError))
	}
}

// snippet flattens whitespace and truncates s to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
