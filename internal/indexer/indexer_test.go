// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package indexer_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidemark-dev/tidemark/internal/embedding"
	"github.com/tidemark-dev/tidemark/internal/indexer"
	"github.com/tidemark-dev/tidemark/internal/store"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := indexer.New(indexer.Config{})
	require.Error(t, err)
	assert.True(t, tmerr.IsInvalidInput(err))
}

func TestReconcile_FreshStoreScenario(t *testing.T) {
	h := newHarness(t)
	// ~500 tokens at four runes per token.
	h.source.put("A", strings.Repeat("word ", 400), "20260101000000000")
	h.source.put("B", "", "20260101000000000")
	// Two 6,000-token paragraphs.
	para := strings.Repeat("abcd", 6000)
	h.source.put("C", para+"\n\n"+para, "20260101000000000")

	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{2, 1, 0, 0}, counts(sum))
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, int64(2), sum.Stats.CountsByStatus[store.SyncStateIndexed])
	assert.Equal(t, int64(1), sum.Stats.CountsByStatus[store.SyncStateEmpty])
	assert.Equal(t, int64(3), sum.Stats.TotalVectors)
	assert.Equal(t, int64(3), sum.Stats.TotalSyncedEntries)

	a, err := h.store.GetSyncStatus(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 1, a.TotalChunks)
	assert.Equal(t, store.SyncStateIndexed, a.Status)

	c, err := h.store.GetSyncStatus(context.Background(), "C")
	require.NoError(t, err)
	assert.Equal(t, 2, c.TotalChunks)

	b, err := h.store.GetSyncStatus(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, store.SyncStateEmpty, b.Status)
	assert.Zero(t, b.TotalChunks)

	// Repeating with no source change does nothing.
	calls := h.embedder.calls.Load()
	again := h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{0, 0, 0, 0}, counts(again))
	assert.Equal(t, calls, h.embedder.calls.Load())
	assert.NotEqual(t, sum.RunID, again.RunID)
}

func TestReconcile_StatusOnlyDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	h.source.put("A", "alpha", "20260101000000000")

	sum := h.reconcile(t, indexer.Options{StatusOnly: true})
	assert.Equal(t, [4]int{0, 0, 0, 0}, counts(sum))
	assert.Empty(t, sum.RunID)
	assert.Zero(t, sum.Stats.TotalSyncedEntries)
	assert.Empty(t, h.source.fetchedTitles())
	assert.Zero(t, h.embedder.calls.Load())
}

func TestReconcile_FatalErrors(t *testing.T) {
	t.Run("backend unreachable", func(t *testing.T) {
		h := newHarness(t)
		h.source.put("A", "alpha", "20260101000000000")
		h.embedder.healthErr = errors.New("connection refused")

		sum, err := h.indexer.Reconcile(context.Background(), indexer.Options{})
		require.Error(t, err)
		assert.Nil(t, sum)
		assert.True(t, tmerr.HasCode(err, tmerr.CodeIndexerBackendUnreachable))
		assert.True(t, tmerr.IsUnavailable(err))
		assert.Contains(t, err.Error(), "connection refused")
		assert.Empty(t, h.source.fetchedTitles())
	})

	t.Run("source list failure", func(t *testing.T) {
		h := newHarness(t)
		h.source.put("A", "alpha", "20260101000000000")
		h.reconcile(t, indexer.Options{})
		h.source.listErr = errors.New("503 from wiki")

		_, err := h.indexer.Reconcile(context.Background(), indexer.Options{})
		require.Error(t, err)
		assert.True(t, tmerr.HasCode(err, tmerr.CodeIndexerSourceListFailure))

		// Nothing was purged because of the failed listing.
		stats, err := h.store.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalSyncedEntries)
	})
}

func TestReconcile_DeletionReconciliation(t *testing.T) {
	h := newHarness(t)
	h.source.put("Keep", "kept body", "20260101000000000")
	h.source.put("Gone", "first paragraph\n\nsecond paragraph", "20260101000000000")
	h.reconcile(t, indexer.Options{})

	h.source.remove("Gone")
	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{0, 0, 0, 1}, counts(sum))

	_, err := h.store.GetSyncStatus(context.Background(), "Gone")
	assert.True(t, tmerr.IsNotFound(err))
	assert.Equal(t, int64(1), sum.Stats.TotalVectors)

	results, err := h.store.SearchNearest(context.Background(), []float32{1, 1, 1}, 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "Gone", r.Title)
	}
}

func TestReconcile_FilteredRunSkipsDeletion(t *testing.T) {
	h := newHarness(t)
	h.source.put("notes/one", "one", "20260101000000000")
	h.source.put("journal/two", "two", "20260101000000000")
	h.reconcile(t, indexer.Options{})

	h.source.put("notes/one", "one edited", "20260102000000000")
	sum := h.reconcile(t, indexer.Options{Filter: "notes/"})
	assert.Equal(t, [4]int{1, 0, 0, 0}, counts(sum))
	assert.Equal(t, int64(2), sum.Stats.TotalSyncedEntries)
}

func TestReconcile_RetryWindow(t *testing.T) {
	h := newHarness(t)
	h.source.put("Flaky", "flaky body", "20260101000000000")
	h.embedder.setFailure("flaky", errBackend)

	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{0, 0, 1, 0}, counts(sum))
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "Flaky", sum.Failures[0].Title)
	assert.Contains(t, sum.Failures[0].Error, "backend exploded")

	st, err := h.store.GetSyncStatus(context.Background(), "Flaky")
	require.NoError(t, err)
	assert.Equal(t, store.SyncStateError, st.Status)
	assert.Contains(t, st.ErrorMessage, "backend exploded")

	h.embedder.setFailure("flaky", nil)

	// Within the window the entry is left alone.
	h.clock.advance(23 * time.Hour)
	calls := h.embedder.calls.Load()
	sum = h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{0, 0, 0, 0}, counts(sum))
	assert.Equal(t, calls, h.embedder.calls.Load())

	// Exactly at the window it is still left alone.
	h.clock.advance(time.Hour)
	sum = h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{0, 0, 0, 0}, counts(sum))
	assert.Equal(t, calls, h.embedder.calls.Load())

	// Past the window it is retried and recovers.
	h.clock.advance(time.Nanosecond)
	sum = h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{1, 0, 0, 0}, counts(sum))

	st, err = h.store.GetSyncStatus(context.Background(), "Flaky")
	require.NoError(t, err)
	assert.Equal(t, store.SyncStateIndexed, st.Status)
	assert.Empty(t, st.ErrorMessage)
}

func TestReconcile_ErroredEntryRetriedWhenModified(t *testing.T) {
	h := newHarness(t)
	h.source.put("Flaky", "flaky body", "20260101000000000")
	h.embedder.setFailure("flaky", errBackend)
	h.reconcile(t, indexer.Options{})

	h.embedder.setFailure("flaky", nil)
	h.source.put("Flaky", "fixed body", "20260101010000000")
	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{1, 0, 0, 0}, counts(sum))
}

func TestReconcile_EmptyNeverRetried(t *testing.T) {
	h := newHarness(t)
	h.source.put("Blank", "   \n\n  ", "20260101000000000")
	h.source.put("Vanished", "body", "20260101000000000")
	h.source.hidden["Vanished"] = true

	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{0, 2, 0, 0}, counts(sum))

	h.clock.advance(72 * time.Hour)
	fetched := len(h.source.fetchedTitles())
	sum = h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{0, 0, 0, 0}, counts(sum))
	assert.Len(t, h.source.fetchedTitles(), fetched)
}

func TestReconcile_ModifiedEntryReplacesChunks(t *testing.T) {
	h := newHarness(t)
	h.source.put("Doc", "one\n\ntwo", "20260101000000000")
	h.reconcile(t, indexer.Options{})

	para := strings.Repeat("abcd", 6000)
	h.source.put("Doc", para+"\n\n"+para+"\n\n"+para, "20260102000000000")
	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{1, 0, 0, 0}, counts(sum))

	st, err := h.store.GetSyncStatus(context.Background(), "Doc")
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalChunks)
	assert.Equal(t, "20260102000000000", st.LastModified)
	assert.Equal(t, int64(3), sum.Stats.TotalVectors)

	// Emptying the entry clears its chunks.
	h.source.put("Doc", "", "20260103000000000")
	sum = h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{0, 1, 0, 0}, counts(sum))
	assert.Zero(t, sum.Stats.TotalVectors)
}

func TestReconcile_FetchFailureKeepsChunks(t *testing.T) {
	h := newHarness(t)
	h.source.put("Doc", "stable body", "20260101000000000")
	h.reconcile(t, indexer.Options{})

	h.source.put("Doc", "new body", "20260102000000000")
	h.source.failGet("Doc", errors.New("wiki timeout"))
	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{0, 0, 1, 0}, counts(sum))
	assert.Equal(t, int64(1), sum.Stats.TotalVectors)

	st, err := h.store.GetSyncStatus(context.Background(), "Doc")
	require.NoError(t, err)
	assert.Equal(t, store.SyncStateError, st.Status)
	assert.Equal(t, 1, st.TotalChunks)
}

func TestReconcile_FailureIsolatedWithinBatch(t *testing.T) {
	h := newHarness(t)
	for i := range 7 {
		h.source.put(fmt.Sprintf("Entry %d", i), fmt.Sprintf("body of entry %d", i), "20260101000000000")
	}
	h.embedder.setFailure("entry 3", errBackend)

	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{6, 0, 1, 0}, counts(sum))
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "Entry 3", sum.Failures[0].Title)
	assert.Equal(t, int64(6), sum.Stats.TotalVectors)
}

func TestReconcile_BatchWidthBoundsConcurrency(t *testing.T) {
	h := newHarness(t)
	h.embedder.delay = 10 * time.Millisecond
	for i := range 12 {
		h.source.put(fmt.Sprintf("E%02d", i), "text", "20260101000000000")
	}

	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, 12, sum.NewlyIndexed)
	assert.LessOrEqual(t, h.embedder.maxFlight.Load(), int32(indexer.DefaultBatchSize))
	assert.Equal(t, int32(12), h.embedder.calls.Load())
}

func TestReconcile_DropsFilesystemArtifacts(t *testing.T) {
	h := newHarness(t)
	h.source.put("Real", "real body", "20260101000000000")
	h.source.put("/var/lib/wiki/x", "junk", "20260101000000000")
	h.source.put(`\\share\y`, "junk", "20260101000000000")
	h.source.put("Imported.tid", "junk", "20260101000000000")
	h.source.put("photo.jpg.meta", "junk", "20260101000000000")

	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{1, 0, 0, 0}, counts(sum))
	assert.Equal(t, []string{"Real"}, h.source.fetchedTitles())
}

func TestReconcile_ForceReindexesEverything(t *testing.T) {
	h := newHarness(t)
	h.source.put("A", "alpha", "20260101000000000")
	h.source.put("B", "", "20260101000000000")
	h.reconcile(t, indexer.Options{})

	sum := h.reconcile(t, indexer.Options{Force: true})
	assert.Equal(t, [4]int{1, 1, 0, 0}, counts(sum))
	assert.Equal(t, int64(1), sum.Stats.TotalVectors)
}

func TestReconcile_DocumentMarkerApplied(t *testing.T) {
	h := newHarness(t)
	h.source.put("A", "first\n\nsecond", "20260101000000000")
	h.reconcile(t, indexer.Options{})

	inputs := h.embedder.allInputs()
	require.Len(t, inputs, 1)
	for _, in := range inputs[0] {
		assert.True(t, strings.HasPrefix(in, embedding.DocumentPrefix), in)
		assert.False(t, strings.HasPrefix(in, embedding.QueryPrefix))
	}

	results, err := h.store.SearchNearest(context.Background(), []float32{1, 0, 1}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.False(t, strings.HasPrefix(results[0].Text, embedding.DocumentPrefix), "stored text is unprefixed")
	assert.Equal(t, []string{"test"}, results[0].Meta.Tags)
}

func TestReconcile_MissingModifiedUsesSentinel(t *testing.T) {
	h := newHarness(t)
	h.source.put("Undated", "body", "")

	sum := h.reconcile(t, indexer.Options{})
	assert.Equal(t, 1, sum.NewlyIndexed)

	st, err := h.store.GetSyncStatus(context.Background(), "Undated")
	require.NoError(t, err)
	assert.Equal(t, store.NeverModified, st.LastModified)

	sum = h.reconcile(t, indexer.Options{})
	assert.Equal(t, [4]int{0, 0, 0, 0}, counts(sum))
}

func TestReconcile_RestartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	for i := range 8 {
		h.source.put(fmt.Sprintf("E%d", i), "body", "20260101000000000")
	}

	// Interrupt the run during the first batch.
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	h.embedder.onEmbed = func() { once.Do(cancel) }

	first, err := h.indexer.Reconcile(ctx, indexer.Options{})
	require.Error(t, err)
	assert.True(t, tmerr.HasCode(err, tmerr.CodeIndexerCanceled))
	require.NotNil(t, first)
	assert.LessOrEqual(t, first.NewlyIndexed+first.Errors, indexer.DefaultBatchSize)

	h.embedder.onEmbed = nil
	second := h.reconcile(t, indexer.Options{})
	assert.Equal(t, 8, first.NewlyIndexed+second.NewlyIndexed)
	assert.Equal(t, int64(8), second.Stats.CountsByStatus[store.SyncStateIndexed])
	assert.Equal(t, int64(8), second.Stats.TotalVectors)
}

// indexedRowFailingStore rejects sync rows that report a successful index.
type indexedRowFailingStore struct {
	store.IndexStore
}

func (s indexedRowFailingStore) UpsertSyncStatus(ctx context.Context, st store.SyncStatus) error {
	if st.Status == store.SyncStateIndexed {
		return errors.New("disk full")
	}
	return s.IndexStore.UpsertSyncStatus(ctx, st)
}

func TestReconcile_SyncWriteFailureRecordsLiveChunkCount(t *testing.T) {
	h := newHarness(t)
	h.source.put("Doc", "one", "20260101000000000")
	h.reconcile(t, indexer.Options{})

	ix, err := indexer.New(indexer.Config{
		Store:    indexedRowFailingStore{IndexStore: h.store},
		Source:   h.source,
		Embedder: h.embedder,
		Now:      h.clock.Now,
	})
	require.NoError(t, err)

	para := strings.Repeat("abcd", 6000)
	h.source.put("Doc", para+"\n\n"+para, "20260102000000000")
	sum, err := ix.Reconcile(context.Background(), indexer.Options{})
	require.NoError(t, err)
	assert.Equal(t, [4]int{0, 0, 1, 0}, counts(sum))
	require.Len(t, sum.Failures, 1)
	assert.Contains(t, sum.Failures[0].Error, "disk full")

	st, err := h.store.GetSyncStatus(context.Background(), "Doc")
	require.NoError(t, err)
	assert.Equal(t, store.SyncStateError, st.Status)
	assert.Equal(t, "20260102000000000", st.LastModified)
	assert.Equal(t, 2, st.TotalChunks)
	assert.Equal(t, int64(2), sum.Stats.TotalVectors)
}
