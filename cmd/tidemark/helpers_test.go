// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidemark-dev/tidemark/internal/secrets"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// mockSecretStore is an in-memory secrets.Store for testing.
type mockSecretStore struct {
	mu   sync.Mutex
	data map[string]string // key → value (service is always "tidemark")
}

func newMockSecretStore(keys ...string) *mockSecretStore {
	m := &mockSecretStore{data: make(map[string]string)}
	for _, k := range keys {
		m.data[k] = "redacted"
	}
	return m
}

func (m *mockSecretStore) Store(_, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockSecretStore) Retrieve(_, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", tmerr.Errorf(tmerr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mockSecretStore) Delete(_, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return tmerr.Errorf(tmerr.CodeSecretNotFound, "not found")
	}
	delete(m.data, key)
	return nil
}

func (m *mockSecretStore) List(_ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// testEnv isolates HOME and the keyring for one test.
type testEnv struct {
	dir     string
	secrets *mockSecretStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	store := newMockSecretStore()
	orig := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return store }
	t.Cleanup(func() { secretStoreFactory = orig })

	return &testEnv{dir: dir, secrets: store}
}

// writeConfig writes a config pointing at the given fake backend and wiki.
// extra is appended verbatim as further top-level YAML.
func (e *testEnv) writeConfig(t *testing.T, ollamaURL, wikiURL, extra string) string {
	t.Helper()
	path := filepath.Join(e.dir, "tidemark.yaml")
	body := fmt.Sprintf(`data_dir: %s
source:
  url: %s
  timeout: 5s
embedding:
  backend: ollama
  address: %s
  dimensions: 3
  health_timeout: 2s
  request_timeout: 5s
indexing:
  batch_size: 2
%s`, filepath.Join(e.dir, "data"), wikiURL, ollamaURL, extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// runCmd executes the root command and returns combined stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCmdContext(context.Background(), t, args...)
}

func runCmdContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// fakeVector maps text to a 3-dimensional vector by keyword.
func fakeVector(text string) []float32 {
	text = strings.ToLower(text)
	switch {
	case strings.Contains(text, "apple"):
		return []float32{1, 0, 0}
	case strings.Contains(text, "banana"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

// newFakeOllama serves GET / and POST /embed.
func newFakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/":
			_, _ = w.Write([]byte("Ollama is running"))
		case r.Method == http.MethodPost && r.URL.Path == "/embed":
			var req struct {
				Model string   `json:"model"`
				Input []string `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			vecs := make([][]float32, len(req.Input))
			for i, in := range req.Input {
				vecs[i] = fakeVector(in)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fakeTiddler struct {
	Title    string   `json:"title"`
	Text     string   `json:"text,omitempty"`
	Modified string   `json:"modified,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// newFakeWiki serves a TiddlyWeb recipe holding tiddlers.
func newFakeWiki(t *testing.T, tiddlers ...fakeTiddler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(fakeWikiHandler(tiddlers...))
	t.Cleanup(srv.Close)
	return srv
}

func fakeWikiHandler(tiddlers ...fakeTiddler) http.Handler {
	byTitle := make(map[string]fakeTiddler, len(tiddlers))
	for _, td := range tiddlers {
		byTitle[td.Title] = td
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/status":
			_, _ = w.Write([]byte(`{"username":"GUEST"}`))
		case r.URL.Path == "/recipes/default/tiddlers.json":
			skinny := make([]fakeTiddler, 0, len(tiddlers))
			for _, td := range tiddlers {
				td.Text = ""
				skinny = append(skinny, td)
			}
			_ = json.NewEncoder(w).Encode(skinny)
		case strings.HasPrefix(r.URL.Path, "/recipes/default/tiddlers/"):
			td, ok := byTitle[strings.TrimPrefix(r.URL.Path, "/recipes/default/tiddlers/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(td)
		default:
			http.NotFound(w, r)
		}
	})
}

func defaultTiddlers() []fakeTiddler {
	return []fakeTiddler{
		{Title: "Apple", Text: "Apple pie needs tart apples and butter.", Modified: "20260101120000000", Tags: []string{"fruit", "baking"}},
		{Title: "Banana", Text: "Banana bread keeps for a week.", Modified: "20260102120000000", Tags: []string{"fruit"}},
	}
}
