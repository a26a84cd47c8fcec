// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tidemark-dev/tidemark/internal/indexer"
	"github.com/tidemark-dev/tidemark/internal/search"
	"github.com/tidemark-dev/tidemark/internal/store"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
	"github.com/tidemark-dev/tidemark/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, s.handleHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodPost,
		Path:        "/api/v1/search",
		Summary:     "Semantic search",
		Description: "Embeds the query and returns the closest entries, one result per title.",
		Tags:        []string{"search"},
	}, s.handleSearch)

	huma.Register(s.api, huma.Operation{
		OperationID: "search-get",
		Method:      http.MethodGet,
		Path:        "/api/v1/search",
		Summary:     "Semantic search (query string)",
		Tags:        []string{"search"},
	}, s.handleSearchGet)

	huma.Register(s.api, huma.Operation{
		OperationID: "reindex",
		Method:      http.MethodPost,
		Path:        "/api/v1/reindex",
		Summary:     "Reconcile the index with the source",
		Description: "Runs synchronously and returns the run summary. Only one run may be active.",
		Tags:        []string{"index"},
	}, s.handleReindex)

	huma.Register(s.api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Index statistics",
		Tags:        []string{"index"},
	}, s.handleStatus)
}

// --- Request/Response types for huma ---

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status    string          `json:"status" example:"ok" doc:"ok, or degraded when the embedding backend is unavailable"`
	Version   string          `json:"version"`
	Embedding *health.Metrics `json:"embedding,omitempty"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

type searchRequest struct {
	Body struct {
		Query  string `json:"query" minLength:"1" doc:"Free-text query"`
		Limit  int    `json:"limit,omitempty" minimum:"0" maximum:"1000" doc:"Maximum results; 0 uses the server default"`
		Filter string `json:"filter,omitempty" doc:"Accepted but not applied"`
	}
}

type searchGetRequest struct {
	Query  string `query:"q" required:"true" minLength:"1"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000"`
	Filter string `query:"filter"`
}

type searchResponse struct {
	Body struct {
		Query   string               `json:"query"`
		Results []store.SearchResult `json:"results"`
	}
}

type reindexRequest struct {
	Body struct {
		Force  bool   `json:"force,omitempty" doc:"Re-index every entry"`
		Filter string `json:"filter,omitempty" doc:"Source filter; a filtered run skips deletions"`
	} `required:"false"`
}

type reindexResponse struct {
	Body *indexer.Summary
}

type statusResponse struct {
	Body struct {
		Stats     store.Stats     `json:"stats"`
		Embedding *health.Metrics `json:"embedding,omitempty"`
	}
}

// --- Handlers ---

func (s *Server) handleHealth(ctx context.Context, _ *struct{}) (*HealthResponse, error) {
	out := &HealthResponse{Body: HealthBody{Status: "ok", Version: s.cfg.Version}}
	if b := s.services.backend; b != nil {
		if err := b.Health(ctx); err != nil {
			out.Body.Status = "degraded"
		}
		m := b.Metrics()
		out.Body.Embedding = &m
	}
	return out, nil
}

func (s *Server) handleSearch(ctx context.Context, in *searchRequest) (*searchResponse, error) {
	return s.search(ctx, search.Query{Text: in.Body.Query, Limit: in.Body.Limit, Filter: in.Body.Filter})
}

func (s *Server) handleSearchGet(ctx context.Context, in *searchGetRequest) (*searchResponse, error) {
	return s.search(ctx, search.Query{Text: in.Query, Limit: in.Limit, Filter: in.Filter})
}

func (s *Server) search(ctx context.Context, q search.Query) (*searchResponse, error) {
	results, err := s.services.searcher.Search(ctx, q)
	if err != nil {
		return nil, apiError("search failed", err)
	}
	out := &searchResponse{}
	out.Body.Query = q.Text
	out.Body.Results = results
	if out.Body.Results == nil {
		out.Body.Results = []store.SearchResult{}
	}
	return out, nil
}

func (s *Server) handleReindex(ctx context.Context, in *reindexRequest) (*reindexResponse, error) {
	if !s.reindexMu.TryLock() {
		return nil, apiError("reindex rejected",
			tmerr.New(tmerr.CodeServerReindexConflict, "a reindex run is already in progress"))
	}
	defer s.reindexMu.Unlock()

	sum, err := s.services.reconciler.Reconcile(ctx, indexer.Options{Force: in.Body.Force, Filter: in.Body.Filter})
	if err != nil {
		if sum != nil && tmerr.HasCode(err, tmerr.CodeIndexerCanceled) {
			return nil, interruptedError(sum)
		}
		return nil, apiError("reindex failed", err)
	}
	return &reindexResponse{Body: sum}, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *struct{}) (*statusResponse, error) {
	sum, err := s.services.reconciler.Reconcile(ctx, indexer.Options{StatusOnly: true})
	if err != nil {
		return nil, apiError("reading index status", err)
	}
	out := &statusResponse{}
	out.Body.Stats = sum.Stats
	if b := s.services.backend; b != nil {
		m := b.Metrics()
		out.Body.Embedding = &m
	}
	return out, nil
}

// interruptedError logs the work a canceled run finished and reports it to
// the caller, if one is still listening.
func interruptedError(sum *indexer.Summary) error {
	slog.Warn("reindex interrupted",
		"run_id", sum.RunID,
		"indexed", sum.NewlyIndexed,
		"empty", sum.Empty,
		"errors", sum.Errors,
		"deleted", sum.Deleted,
	)
	return huma.NewError(http.StatusServiceUnavailable, fmt.Sprintf(
		"reindex interrupted: run %s indexed %d, empty %d, errors %d, deleted %d before stopping",
		sum.RunID, sum.NewlyIndexed, sum.Empty, sum.Errors, sum.Deleted))
}

// apiError maps err's code to an HTTP status. Server-side failures are
// logged; their detail stays out of the response.
func apiError(msg string, err error) error {
	status := tmerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable &&
		status != http.StatusBadGateway && status != http.StatusGatewayTimeout {
		slog.Error(msg, "error", err, "code", tmerr.CodeOf(err))
		return huma.NewError(status, msg)
	}
	return huma.NewError(status, msg+": "+err.Error())
}
