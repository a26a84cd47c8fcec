// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package google_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidemark-dev/tidemark/internal/embedding"
	"github.com/tidemark-dev/tidemark/internal/embedding/google"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

var _ embedding.Embedder = (*google.Client)(nil)

func newClient(t *testing.T, srv *httptest.Server, dims int) *google.Client {
	t.Helper()
	c, err := google.New(context.Background(), google.Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/",
		Dimensions: dims,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := google.New(context.Background(), google.Config{})
	require.Error(t, err)
	assert.True(t, tmerr.IsInvalidInput(err))
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.1,0.2]},{"values":[0.3,0.4]}]}`))
	}))
	defer srv.Close()

	c := newClient(t, srv, 2)
	assert.Equal(t, "google", c.Name())

	vecs, err := c.Embed(context.Background(), "", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vecs)
}

func TestEmbed_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.1,0.2]}]}`))
	}))
	defer srv.Close()

	_, err := newClient(t, srv, 2).Embed(context.Background(), "", []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, tmerr.HasCode(err, tmerr.CodeEmbeddingResponseInvalid))
}

func TestEmbed_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	_, err := newClient(t, srv, 2).Embed(context.Background(), "", []string{"a"})
	require.Error(t, err)
	assert.True(t, tmerr.IsUpstreamFailure(err))
	assert.Contains(t, err.Error(), "403")
}

func TestHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"models/gemini-embedding-001"}`))
	}))
	defer healthy.Close()
	assert.NoError(t, newClient(t, healthy, 2).Health(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	assert.False(t, embedding.Healthy(context.Background(), newClient(t, down, 2)))
}
