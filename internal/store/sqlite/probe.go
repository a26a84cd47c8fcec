// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package sqlite

import (
	"database/sql"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tidemark-dev/tidemark/internal/store"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// probeVec is evaluated once per process. The extension is registered as an
// auto-extension, so availability cannot change after the first check.
var probeVec = sync.OnceValues(func() (string, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return "", err
	}
	defer func() { _ = db.Close() }()

	var version string
	if err := db.QueryRow(`SELECT vec_version()`).Scan(&version); err != nil {
		return "", err
	}
	return version, nil
})

// Probe reports the loaded sqlite-vec version, or an error wrapping
// store.ErrVecUnavailable when the extension is missing.
func Probe() (string, error) {
	version, err := probeVec()
	if err != nil {
		return "", tmerr.Errorf(tmerr.CodeStoreCapabilityMissing, "%w: %w", store.ErrVecUnavailable, err)
	}
	return version, nil
}
