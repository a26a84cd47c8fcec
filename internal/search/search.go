// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

// Package search answers nearest-neighbor queries over the index.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tidemark-dev/tidemark/internal/embedding"
	"github.com/tidemark-dev/tidemark/internal/store"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// DefaultLimit is used when a query does not set one.
const DefaultLimit = 10

// Config holds dependencies for the Searcher.
type Config struct {
	Store    store.IndexStore
	Embedder embedding.Embedder
	// Model is passed to the embedder; empty selects the backend default.
	Model        string
	DefaultLimit int
	Logger       *slog.Logger
}

// Query is a search request.
type Query struct {
	Text  string
	Limit int
	// Filter is accepted for API compatibility but not applied; searches
	// always run over the whole index.
	Filter string
}

// Searcher embeds queries and returns the closest entries.
type Searcher struct {
	store        store.IndexStore
	embedder     embedding.Embedder
	model        string
	defaultLimit int
	logger       *slog.Logger
}

// New creates a Searcher. Store and Embedder are required.
func New(cfg Config) (*Searcher, error) {
	if cfg.Store == nil || cfg.Embedder == nil {
		return nil, tmerr.New(tmerr.CodeConfigValidateInvalidValue,
			"searcher requires a store and an embedder")
	}
	s := &Searcher{
		store:        cfg.Store,
		embedder:     cfg.Embedder,
		model:        cfg.Model,
		defaultLimit: cfg.DefaultLimit,
		logger:       cfg.Logger,
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = DefaultLimit
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Search returns at most one result per title, ordered by ascending
// distance. An unreachable backend is an error, never an empty result.
func (s *Searcher) Search(ctx context.Context, q Query) ([]store.SearchResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, tmerr.New(tmerr.CodeSearchInvalidInput, "query text is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if q.Filter != "" {
		s.logger.Debug("search filter accepted but not applied", "filter", q.Filter)
	}

	if err := s.embedder.Health(ctx); err != nil {
		return nil, tmerr.New(tmerr.CodeSearchBackendUnreachable,
			fmt.Sprintf("embedding backend %s is unreachable: %v", s.embedder.Name(), err),
			tmerr.FieldBackend(s.embedder.Name()))
	}

	vecs, err := s.embedder.Embed(ctx, s.model, []string{embedding.ForQuery(text)})
	if err != nil {
		return nil, tmerr.Wrap(err, tmerr.CodeSearchFailure, "embedding query")
	}
	if len(vecs) != 1 {
		return nil, tmerr.New(tmerr.CodeSearchFailure,
			fmt.Sprintf("embedder returned %d vectors for one query", len(vecs)))
	}

	hits, err := s.store.SearchNearest(ctx, vecs[0], limit)
	if err != nil {
		return nil, tmerr.Wrap(err, tmerr.CodeSearchFailure, "searching index")
	}

	results := Dedup(hits)
	s.logger.Debug("search complete", "count", len(results), "hits", len(hits))
	return results, nil
}

// Dedup keeps the closest hit per title and sorts the survivors by
// ascending distance. Ties keep their original relative order.
func Dedup(hits []store.SearchResult) []store.SearchResult {
	best := make(map[string]int, len(hits))
	out := make([]store.SearchResult, 0, len(hits))
	for _, h := range hits {
		i, seen := best[h.Title]
		if !seen {
			best[h.Title] = len(out)
			out = append(out, h)
			continue
		}
		if h.Distance < out[i].Distance {
			out[i] = h
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Distance < out[b].Distance })
	return out
}
