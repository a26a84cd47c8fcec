// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

// Package source defines the read-only boundary to the document source.
package source

import (
	"context"
	"strings"
)

// Entry is a wiki entry as reported by the source. Entries are never
// mutated after they are returned.
type Entry struct {
	Title string
	// Text is empty in list results and for entries without a body.
	Text string
	// Modified and Created use the lexically sortable YYYYMMDDhhmmssSSS form.
	Modified string
	Created  string
	Tags     []string
}

// Source lists and fetches entries.
type Source interface {
	// ListEntries returns metadata for every entry matching filter. An
	// empty filter selects the source's default set.
	ListEntries(ctx context.Context, filter string) ([]Entry, error)
	// GetEntry returns the full entry, or (nil, nil) if it does not exist.
	GetEntry(ctx context.Context, title string) (*Entry, error)
}

// Indexable reports whether title names a user entry rather than a
// system path or a file-backed artifact.
func Indexable(title string) bool {
	if title == "" {
		return false
	}
	if strings.HasPrefix(title, "/") || strings.HasPrefix(title, `\`) {
		return false
	}
	return !strings.HasSuffix(title, ".tid") && !strings.HasSuffix(title, ".meta")
}
