// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidemark-dev/tidemark/internal/store"
	"github.com/tidemark-dev/tidemark/internal/store/sqlite"
)

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".db")
}

// newTestStore opens a 3-dimensional index store that is closed on cleanup.
func newTestStore(t *testing.T, name string) *sqlite.IndexStore {
	t.Helper()
	s, err := sqlite.NewIndexStore(testDBPath(t, name), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func chunk(title string, index int, vec ...float32) store.Chunk {
	return store.Chunk{
		Title:  title,
		Index:  index,
		Vector: vec,
		Text:   title + " chunk",
		Meta:   store.ChunkMeta{Created: "20240101000000000", Modified: "20240102000000000", Tags: []string{"notes"}},
	}
}
