// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package sqlite

import (
	"path/filepath"

	"github.com/tidemark-dev/tidemark/internal/store"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// IndexFile is the database file name inside the data directory.
const IndexFile = "index.db"

func init() {
	store.RegisterBackend("sqlite", newIndexStore)
}

func newIndexStore(dataDir string, vectorDims int) (store.IndexStore, error) {
	s, err := NewIndexStore(filepath.Join(dataDir, IndexFile), vectorDims)
	if err != nil {
		return nil, tmerr.Wrapf(err, tmerr.CodeStoreDatabaseFailure, "creating index store")
	}
	return s, nil
}
