// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package store

import "errors"

// Sentinel errors for store operations.
// These errors can be checked using errors.Is() for classification.
var (
	// ErrNotFound indicates the requested sync record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVecUnavailable indicates the sqlite-vec extension could not be loaded.
	ErrVecUnavailable = errors.New("vector extension unavailable")
)
