// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidemark-dev/tidemark/internal/store"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

func TestSyncStatus_Validate(t *testing.T) {
	tests := []struct {
		name    string
		status  store.SyncStatus
		wantErr bool
	}{
		{"indexed", store.SyncStatus{Title: "A", Status: store.SyncStateIndexed, TotalChunks: 2}, false},
		{"empty", store.SyncStatus{Title: "B", Status: store.SyncStateEmpty}, false},
		{"error with message", store.SyncStatus{Title: "C", Status: store.SyncStateError, ErrorMessage: "boom"}, false},
		{"missing title", store.SyncStatus{Status: store.SyncStateIndexed}, true},
		{"unknown status", store.SyncStatus{Title: "A", Status: "pending"}, true},
		{"negative chunks", store.SyncStatus{Title: "A", Status: store.SyncStateIndexed, TotalChunks: -1}, true},
		{"empty with chunks", store.SyncStatus{Title: "A", Status: store.SyncStateEmpty, TotalChunks: 1}, true},
		{"message on indexed", store.SyncStatus{Title: "A", Status: store.SyncStateIndexed, ErrorMessage: "stale"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.status.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, tmerr.IsInvalidInput(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunk_Validate(t *testing.T) {
	ok := store.Chunk{Title: "A", Index: 0, Text: "hello", Vector: []float32{1, 0, 0}}
	assert.NoError(t, ok.Validate(3))

	assert.Error(t, ok.Validate(4), "dimension mismatch")

	noText := ok
	noText.Text = ""
	assert.Error(t, noText.Validate(3))

	negative := ok
	negative.Index = -1
	assert.Error(t, negative.Validate(3))
}
