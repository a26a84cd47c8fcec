// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package store

import (
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// Valid reports whether the state is a known sync state.
func (s SyncState) Valid() bool {
	switch s {
	case SyncStateIndexed, SyncStateEmpty, SyncStateError:
		return true
	default:
		return false
	}
}

// Validate checks that the SyncStatus has all required fields set correctly.
func (s SyncStatus) Validate() error {
	if s.Title == "" {
		return tmerr.New(tmerr.CodeStoreInvalidInput, "sync status: Title is required")
	}
	if !s.Status.Valid() {
		return tmerr.Errorf(tmerr.CodeStoreInvalidInput, "sync status: invalid status %q", s.Status)
	}
	if s.TotalChunks < 0 {
		return tmerr.Errorf(tmerr.CodeStoreInvalidInput, "sync status: TotalChunks must be >= 0, got %d", s.TotalChunks)
	}
	if s.Status == SyncStateEmpty && s.TotalChunks != 0 {
		return tmerr.Errorf(tmerr.CodeStoreInvalidInput, "sync status: empty entry %q cannot have %d chunks", s.Title, s.TotalChunks)
	}
	if s.Status != SyncStateError && s.ErrorMessage != "" {
		return tmerr.Errorf(tmerr.CodeStoreInvalidInput, "sync status: error message set for %s entry %q", s.Status, s.Title)
	}
	return nil
}

// Validate checks that the Chunk can be stored in a table of the given
// vector dimension.
func (c Chunk) Validate(dimensions int) error {
	if c.Title == "" {
		return tmerr.New(tmerr.CodeStoreInvalidInput, "chunk: Title is required")
	}
	if c.Index < 0 {
		return tmerr.Errorf(tmerr.CodeStoreInvalidInput, "chunk: Index must be >= 0, got %d", c.Index)
	}
	if c.Text == "" {
		return tmerr.New(tmerr.CodeStoreInvalidInput, "chunk: Text is required")
	}
	if len(c.Vector) != dimensions {
		return tmerr.Errorf(tmerr.CodeStoreInvalidInput,
			"chunk: vector has %d dimensions, store expects %d", len(c.Vector), dimensions)
	}
	return nil
}
