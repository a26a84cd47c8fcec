// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package embedding

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/text/unicode/norm"

	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// Task markers expected by nomic-style embedding models. Documents and
// queries must carry different prefixes or retrieval quality collapses.
const (
	DocumentPrefix = "search_document: "
	QueryPrefix    = "search_query: "
)

// Default timeouts for backend calls.
const (
	DefaultHealthTimeout  = 5 * time.Second
	DefaultRequestTimeout = 120 * time.Second
	DefaultDNSTimeout     = 3 * time.Second
)

// Embedder converts text batches into fixed-dimension vectors.
type Embedder interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// Health returns nil when the backend answers its probe in time.
	Health(ctx context.Context) error
	// Embed returns one vector per input text, in input order, using a
	// single backend request.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Healthy reports whether e passes its health probe.
func Healthy(ctx context.Context, e Embedder) bool {
	return e.Health(ctx) == nil
}

// ForDocuments returns texts in NFC form prefixed with the document marker.
func ForDocuments(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = DocumentPrefix + norm.NFC.String(t)
	}
	return out
}

// ForQuery returns text in NFC form prefixed with the query marker.
// Documents and queries share a normal form so composed and decomposed
// spellings embed alike.
func ForQuery(text string) string {
	return QueryPrefix + norm.NFC.String(text)
}

// CheckVectors verifies a backend response: one vector per input, each of
// the expected width. dims <= 0 skips the width check.
func CheckVectors(backend string, vecs [][]float32, inputs, dims int) error {
	if len(vecs) != inputs {
		return tmerr.New(tmerr.CodeEmbeddingResponseInvalid,
			"embedding count does not match input count",
			tmerr.FieldBackend(backend), tmerr.Field("inputs", inputs), tmerr.Field("embeddings", len(vecs)))
	}
	if dims <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != dims {
			return tmerr.New(tmerr.CodeEmbeddingResponseInvalid,
				"embedding has unexpected dimensions",
				tmerr.FieldBackend(backend), tmerr.Field("index", i),
				tmerr.Field("expected", dims), tmerr.Field("got", len(v)))
		}
	}
	return nil
}

// TransportError classifies a failed backend call as a timeout or an
// upstream failure, keeping the cause in the chain.
func TransportError(err error, backend, op string) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) {
		return tmerr.Wrap(err, tmerr.CodeEmbeddingTimeout, op+" timed out", tmerr.FieldBackend(backend))
	}
	return tmerr.Wrap(err, tmerr.CodeEmbeddingUpstreamFailure, op+" failed", tmerr.FieldBackend(backend))
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
