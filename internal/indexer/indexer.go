// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

// Package indexer reconciles the vector index with the document source.
//
// A run decides which entries need (re)embedding from durable sync state,
// removes entries that disappeared from the source, and indexes the rest in
// sequential fixed-width batches whose members run concurrently. A failure
// on one entry is recorded against that entry and never aborts the run.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/tidemark-dev/tidemark/internal/chunk"
	"github.com/tidemark-dev/tidemark/internal/embedding"
	"github.com/tidemark-dev/tidemark/internal/source"
	"github.com/tidemark-dev/tidemark/internal/store"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

const (
	// DefaultBatchSize is the number of entries indexed concurrently.
	DefaultBatchSize = 5
	// DefaultRetryAfter is how long an errored entry waits before retry.
	DefaultRetryAfter = 24 * time.Hour
)

// Config holds dependencies for the Indexer.
type Config struct {
	Store    store.IndexStore
	Source   source.Source
	Embedder embedding.Embedder
	// Chunker defaults to chunk.New(nil).
	Chunker *chunk.Chunker
	// Model is passed to the embedder; empty selects the backend default.
	Model      string
	MaxTokens  int
	BatchSize  int
	RetryAfter time.Duration
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Options control a single reconciliation run.
type Options struct {
	// Force re-indexes every valid entry regardless of sync state.
	Force bool
	// StatusOnly reports store statistics without touching anything.
	StatusOnly bool
	// Filter narrows the source listing. A non-empty filter disables
	// deletion reconciliation for the run.
	Filter string
}

// Failure records why one entry could not be indexed or removed.
type Failure struct {
	Title string `json:"title"`
	Error string `json:"error"`
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID        string        `json:"run_id,omitempty"`
	NewlyIndexed int           `json:"newly_indexed"`
	Empty        int           `json:"empty"`
	Errors       int           `json:"errors"`
	Deleted      int           `json:"deleted"`
	Stats        store.Stats   `json:"stats"`
	Failures     []Failure     `json:"failures,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Indexer drives reconciliation runs.
type Indexer struct {
	store      store.IndexStore
	source     source.Source
	embedder   embedding.Embedder
	chunker    *chunk.Chunker
	model      string
	maxTokens  int
	batchSize  int
	retryAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// New creates an Indexer. Store, Source, and Embedder are required.
func New(cfg Config) (*Indexer, error) {
	if cfg.Store == nil || cfg.Source == nil || cfg.Embedder == nil {
		return nil, tmerr.New(tmerr.CodeConfigValidateInvalidValue,
			"indexer requires a store, a source, and an embedder")
	}
	ix := &Indexer{
		store:      cfg.Store,
		source:     cfg.Source,
		embedder:   cfg.Embedder,
		chunker:    cfg.Chunker,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		batchSize:  cfg.BatchSize,
		retryAfter: cfg.RetryAfter,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	if ix.chunker == nil {
		ix.chunker = chunk.New(nil)
	}
	if ix.maxTokens <= 0 {
		ix.maxTokens = chunk.DefaultMaxTokens
	}
	if ix.batchSize <= 0 {
		ix.batchSize = DefaultBatchSize
	}
	if ix.retryAfter <= 0 {
		ix.retryAfter = DefaultRetryAfter
	}
	if ix.now == nil {
		ix.now = time.Now
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	return ix, nil
}

// Reconcile runs one reconciliation pass. Fatal errors (backend
// unreachable, source listing failed) abort before any mutation. Per-entry
// failures are counted in the summary and recorded in sync state.
func (ix *Indexer) Reconcile(ctx context.Context, opts Options) (*Summary, error) {
	if opts.StatusOnly {
		stats, err := ix.store.Stats(ctx)
		if err != nil {
			return nil, tmerr.Wrap(err, tmerr.CodeIndexerStoreFailure, "reading index stats")
		}
		return &Summary{Stats: stats}, nil
	}

	start := ix.now()
	sum := &Summary{RunID: uuid.NewString()}
	log := ix.logger.With("run_id", sum.RunID)

	if err := ix.embedder.Health(ctx); err != nil {
		return nil, tmerr.New(tmerr.CodeIndexerBackendUnreachable,
			fmt.Sprintf("embedding backend %s is unreachable: %v", ix.embedder.Name(), err),
			tmerr.FieldBackend(ix.embedder.Name()))
	}

	listed, err := ix.source.ListEntries(ctx, opts.Filter)
	if err != nil {
		return nil, tmerr.New(tmerr.CodeIndexerSourceListFailure,
			fmt.Sprintf("listing source entries: %v", err))
	}
	valid := validEntries(listed)

	existing, err := ix.store.ListSyncStatus(ctx)
	if err != nil {
		return nil, tmerr.Wrap(err, tmerr.CodeIndexerStoreFailure, "reading sync state")
	}
	synced := make(map[string]store.SyncStatus, len(existing))
	for _, s := range existing {
		synced[s.Title] = s
	}

	pending := ix.selectPending(valid, synced, opts.Force)
	log.Info("reconcile started",
		"listed", len(listed), "valid", len(valid), "pending", len(pending), "force", opts.Force)

	if opts.Filter == "" {
		ix.reconcileDeletions(ctx, log, valid, existing, sum)
	} else {
		log.Debug("deletion reconciliation skipped for filtered run", "filter", opts.Filter)
	}

	for i := 0; i < len(pending); i += ix.batchSize {
		if err := ctx.Err(); err != nil {
			return sum, tmerr.Wrap(err, tmerr.CodeIndexerCanceled, "reconcile interrupted")
		}
		end := min(i+ix.batchSize, len(pending))
		for _, o := range ix.runBatch(ctx, pending[i:end], synced) {
			switch o.state {
			case store.SyncStateIndexed:
				sum.NewlyIndexed++
			case store.SyncStateEmpty:
				sum.Empty++
			default:
				sum.Errors++
				sum.Failures = append(sum.Failures, Failure{Title: o.title, Error: o.err.Error()})
			}
		}
		log.Debug("batch complete", "batch", i/ix.batchSize, "count", end-i)
	}

	stats, err := ix.store.Stats(ctx)
	if err != nil {
		return sum, tmerr.Wrap(err, tmerr.CodeIndexerStoreFailure, "reading index stats")
	}
	sum.Stats = stats
	sum.Duration = ix.now().Sub(start)

	log.Info("reconcile finished",
		"indexed", sum.NewlyIndexed, "empty", sum.Empty, "errors", sum.Errors,
		"deleted", sum.Deleted, "vectors", stats.TotalVectors)
	return sum, nil
}

// validEntries drops non-indexable titles. A title listed twice keeps its
// last occurrence.
func validEntries(listed []source.Entry) []source.Entry {
	pos := make(map[string]int, len(listed))
	out := make([]source.Entry, 0, len(listed))
	for _, e := range listed {
		if !source.Indexable(e.Title) {
			continue
		}
		if i, ok := pos[e.Title]; ok {
			out[i] = e
			continue
		}
		pos[e.Title] = len(out)
		out = append(out, e)
	}
	return out
}

// selectPending returns the entries whose sync state calls for indexing.
func (ix *Indexer) selectPending(valid []source.Entry, synced map[string]store.SyncStatus, force bool) []source.Entry {
	if force {
		return valid
	}
	now := ix.now()
	var out []source.Entry
	for _, e := range valid {
		if ix.needsIndexing(e, synced, now) {
			out = append(out, e)
		}
	}
	return out
}

func (ix *Indexer) needsIndexing(e source.Entry, synced map[string]store.SyncStatus, now time.Time) bool {
	s, ok := synced[e.Title]
	if !ok {
		return true
	}
	if s.LastModified != normalizeModified(e.Modified) {
		return true
	}
	// Unchanged empty entries are never retried; unchanged errors are
	// retried once the window has passed.
	return s.Status == store.SyncStateError && now.Sub(s.LastIndexedAt) > ix.retryAfter
}

func (ix *Indexer) reconcileDeletions(ctx context.Context, log *slog.Logger, valid []source.Entry, existing []store.SyncStatus, sum *Summary) {
	present := make(map[string]struct{}, len(valid))
	for _, e := range valid {
		present[e.Title] = struct{}{}
	}
	for _, s := range existing {
		if _, ok := present[s.Title]; ok {
			continue
		}
		if err := ix.store.DeleteEntry(ctx, s.Title); err != nil {
			log.Warn("removing deleted entry failed", "title", s.Title, "error", err)
			sum.Failures = append(sum.Failures, Failure{Title: s.Title, Error: err.Error()})
			continue
		}
		log.Debug("removed deleted entry", "title", s.Title)
		sum.Deleted++
	}
}

// outcome is the result of indexing one entry.
type outcome struct {
	title string
	state store.SyncState
	err   error
}

// runBatch indexes entries concurrently and waits for all of them. Every
// task yields an outcome; a panic propagates to the caller.
func (ix *Indexer) runBatch(ctx context.Context, batch []source.Entry, synced map[string]store.SyncStatus) []outcome {
	p := pool.NewWithResults[outcome]().WithMaxGoroutines(len(batch))
	for _, e := range batch {
		prior := synced[e.Title].TotalChunks
		p.Go(func() outcome {
			return ix.indexEntry(ctx, e, prior)
		})
	}
	return p.Wait()
}

// indexEntry replaces the chunk set for one entry and records the result.
// prior is the chunk count stored before this run.
func (ix *Indexer) indexEntry(ctx context.Context, listed source.Entry, prior int) outcome {
	title := listed.Title
	modified := normalizeModified(listed.Modified)
	log := ix.logger.With("title", title)

	state, chunks, cleared, err := ix.embedEntry(ctx, listed)
	if err != nil {
		err = tmerr.Wrap(err, tmerr.CodeIndexerEntryFailure, "indexing entry", tmerr.FieldTitle(title))
		log.Warn("indexing entry failed", "error", err)
		// Chunks survive a failed fetch; once cleared, none remain.
		remaining := prior
		if cleared {
			remaining = 0
		}
		ix.recordFailure(ctx, log, title, modified, remaining, err)
		return outcome{title: title, state: store.SyncStateError, err: err}
	}

	if err := ix.store.UpsertSyncStatus(ctx, store.SyncStatus{
		Title:         title,
		LastModified:  modified,
		LastIndexedAt: ix.now(),
		TotalChunks:   chunks,
		Status:        state,
	}); err != nil {
		err = tmerr.Wrap(err, tmerr.CodeIndexerEntryFailure, "recording sync status", tmerr.FieldTitle(title))
		log.Error("recording sync status failed", "error", err)
		// The chunk set is already replaced; the previous row must not
		// keep describing the old one.
		ix.recordFailure(ctx, log, title, modified, chunks, err)
		return outcome{title: title, state: store.SyncStateError, err: err}
	}

	log.Debug("entry indexed", "status", state, "count", chunks)
	return outcome{title: title, state: state}
}

// recordFailure stores an error row for title. live is the number of chunks
// the store holds for it now. A failing write is logged and dropped.
func (ix *Indexer) recordFailure(ctx context.Context, log *slog.Logger, title, modified string, live int, cause error) {
	if err := ix.store.UpsertSyncStatus(ctx, store.SyncStatus{
		Title:         title,
		LastModified:  modified,
		LastIndexedAt: ix.now(),
		TotalChunks:   live,
		Status:        store.SyncStateError,
		ErrorMessage:  cause.Error(),
	}); err != nil {
		log.Error("recording entry failure", "error", err)
	}
}

// embedEntry fetches, chunks, embeds, and stores one entry. It returns the
// resulting state, the number of chunks written, and whether the previous
// chunk set was removed.
func (ix *Indexer) embedEntry(ctx context.Context, listed source.Entry) (store.SyncState, int, bool, error) {
	full, err := ix.source.GetEntry(ctx, listed.Title)
	if err != nil {
		return "", 0, false, err
	}
	if err := ix.store.DeleteChunks(ctx, listed.Title); err != nil {
		return "", 0, false, err
	}
	if full == nil || strings.TrimSpace(full.Text) == "" {
		return store.SyncStateEmpty, 0, true, nil
	}

	pieces := ix.chunker.Chunk(full.Text, ix.maxTokens)
	vecs, err := ix.embedder.Embed(ctx, ix.model, embedding.ForDocuments(pieces))
	if err != nil {
		return "", 0, true, err
	}
	if len(vecs) != len(pieces) {
		return "", 0, true, tmerr.New(tmerr.CodeEmbeddingResponseInvalid,
			fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vecs), len(pieces)))
	}

	meta := store.ChunkMeta{
		Created:  firstNonEmpty(full.Created, listed.Created),
		Modified: firstNonEmpty(listed.Modified, full.Modified),
		Tags:     full.Tags,
	}
	if meta.Tags == nil {
		meta.Tags = listed.Tags
	}
	chunks := make([]store.Chunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = store.Chunk{Title: listed.Title, Index: i, Vector: vecs[i], Text: text, Meta: meta}
	}
	if _, err := ix.store.InsertChunks(ctx, chunks); err != nil {
		return "", 0, true, err
	}
	return store.SyncStateIndexed, len(chunks), true, nil
}

// normalizeModified maps a missing source timestamp to the stored sentinel
// so that comparisons against persisted state are stable.
func normalizeModified(m string) string {
	if m == "" {
		return store.NeverModified
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
