// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package store

import "context"

// IndexStore holds chunk vectors, chunk metadata, and per-entry sync state.
// Implementations must serialize their own writes; callers may invoke
// methods for distinct titles concurrently.
type IndexStore interface {
	// InitSchema creates the relations if missing and runs pending migrations.
	InitSchema(ctx context.Context) error

	InsertChunk(ctx context.Context, chunk Chunk) (int64, error)
	// InsertChunks writes a full chunk set in one transaction.
	InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error)
	SearchNearest(ctx context.Context, query []float32, k int) ([]SearchResult, error)

	// DeleteChunks removes chunk rows and vectors for title, keeping its sync row.
	DeleteChunks(ctx context.Context, title string) error
	// DeleteEntry removes chunk rows, vectors, and the sync row for title.
	DeleteEntry(ctx context.Context, title string) error

	UpsertSyncStatus(ctx context.Context, status SyncStatus) error
	GetSyncStatus(ctx context.Context, title string) (*SyncStatus, error)
	ListSyncStatus(ctx context.Context) ([]SyncStatus, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
