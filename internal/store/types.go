// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package store

import "time"

// NeverModified is stored as last_modified when no source timestamp was
// recorded. It sorts before every real TiddlyWiki timestamp.
const NeverModified = "00000000000000000"

// SyncState is the outcome of the last indexing decision for an entry.
type SyncState string

const (
	SyncStateIndexed SyncState = "indexed"
	SyncStateEmpty   SyncState = "empty"
	SyncStateError   SyncState = "error"
)

// SyncStatus tracks whether, when, and how an entry was last indexed.
type SyncStatus struct {
	Title         string
	LastModified  string
	LastIndexedAt time.Time
	TotalChunks   int
	Status        SyncState
	ErrorMessage  string // set only when Status is SyncStateError
}

// ChunkMeta is entry metadata copied onto every chunk at index time.
type ChunkMeta struct {
	Created  string   `json:"created,omitempty"`
	Modified string   `json:"modified,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Chunk is one embedded slice of an entry body.
type Chunk struct {
	Title  string
	Index  int
	Vector []float32
	Text   string
	Meta   ChunkMeta
}

// SearchResult is a nearest-neighbor hit. Distance is the vec0 metric;
// smaller means more similar.
type SearchResult struct {
	Title    string    `json:"title"`
	Index    int       `json:"chunk_index"`
	Text     string    `json:"text"`
	Meta     ChunkMeta `json:"meta"`
	Distance float64   `json:"distance"`
}

// Stats summarizes the store contents.
type Stats struct {
	TotalVectors       int64               `json:"total_vectors"`
	TotalSyncedEntries int64               `json:"total_synced_entries"`
	CountsByStatus     map[SyncState]int64 `json:"counts_by_status"`
}
