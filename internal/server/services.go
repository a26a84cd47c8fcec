// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package server

import (
	"context"

	"github.com/tidemark-dev/tidemark/internal/indexer"
	"github.com/tidemark-dev/tidemark/internal/search"
	"github.com/tidemark-dev/tidemark/internal/store"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
	"github.com/tidemark-dev/tidemark/pkg/health"
)

// Reconciler runs or reports on index reconciliation.
type Reconciler interface {
	Reconcile(ctx context.Context, opts indexer.Options) (*indexer.Summary, error)
}

// Searcher answers semantic queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]store.SearchResult, error)
}

// BackendHealth probes the embedding backend and reports its tracked state.
type BackendHealth interface {
	Health(ctx context.Context) error
	Metrics() health.Metrics
}

// Services holds the dependencies injected into route handlers.
// Each field is an interface so handlers can be tested with fakes.
type Services struct {
	reconciler Reconciler
	searcher   Searcher
	backend    BackendHealth // optional; nil omits backend state from /health
}

// NewServices validates and bundles the handler dependencies.
func NewServices(r Reconciler, s Searcher, backend BackendHealth) (*Services, error) {
	if r == nil {
		return nil, tmerr.New(tmerr.CodeServerConfigInvalid, "reconciler is required")
	}
	if s == nil {
		return nil, tmerr.New(tmerr.CodeServerConfigInvalid, "searcher is required")
	}
	return &Services{reconciler: r, searcher: s, backend: backend}, nil
}
