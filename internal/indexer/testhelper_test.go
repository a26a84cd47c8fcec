// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package indexer_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidemark-dev/tidemark/internal/indexer"
	"github.com/tidemark-dev/tidemark/internal/source"
	"github.com/tidemark-dev/tidemark/internal/store/sqlite"
)

const testDims = 3

// fakeSource is an in-memory document source.
type fakeSource struct {
	mu      sync.Mutex
	entries map[string]source.Entry
	order   []string
	listErr error
	getErr  map[string]error
	// hidden titles are listed but absent on fetch.
	hidden  map[string]bool
	fetched []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		entries: map[string]source.Entry{},
		getErr:  map[string]error{},
		hidden:  map[string]bool{},
	}
}

func (f *fakeSource) put(title, text, modified string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[title]; !ok {
		f.order = append(f.order, title)
	}
	f.entries[title] = source.Entry{
		Title:    title,
		Text:     text,
		Modified: modified,
		Created:  "20250101000000000",
		Tags:     []string{"test"},
	}
}

func (f *fakeSource) remove(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, title)
	for i, t := range f.order {
		if t == title {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *fakeSource) failGet(title string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.getErr, title)
		return
	}
	f.getErr[title] = err
}

func (f *fakeSource) ListEntries(_ context.Context, filter string) ([]source.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []source.Entry
	for _, t := range f.order {
		if filter != "" && !strings.HasPrefix(t, filter) {
			continue
		}
		e := f.entries[t]
		e.Text = ""
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeSource) GetEntry(_ context.Context, title string) (*source.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, title)
	if err := f.getErr[title]; err != nil {
		return nil, err
	}
	e, ok := f.entries[title]
	if !ok || f.hidden[title] {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeSource) fetchedTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// fakeEmbedder returns deterministic vectors and records every call.
type fakeEmbedder struct {
	mu        sync.Mutex
	healthErr error
	failOn    map[string]error
	inputs    [][]string
	calls     atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	delay     time.Duration
	onEmbed   func()
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{failOn: map[string]error{}}
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Health(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeEmbedder) setFailure(substr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, substr)
		return
	}
	f.failOn[substr] = err
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	f.calls.Add(1)
	if f.onEmbed != nil {
		f.onEmbed()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inputs = append(f.inputs, append([]string(nil), texts...))
	for substr, err := range f.failOn {
		for _, t := range texts {
			if strings.Contains(t, substr) {
				f.mu.Unlock()
				return nil, err
			}
		}
	}
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)%97) + 1, float32(strings.Count(t, "a")), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) allInputs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.inputs...)
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness wires an indexer over a temp sqlite store.
type harness struct {
	store    *sqlite.IndexStore
	source   *fakeSource
	embedder *fakeEmbedder
	clock    *clock
	indexer  *indexer.Indexer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := sqlite.NewIndexStore(filepath.Join(t.TempDir(), "index.db"), testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store:    st,
		source:   newFakeSource(),
		embedder: newFakeEmbedder(),
		clock:    newClock(),
	}
	h.indexer, err = indexer.New(indexer.Config{
		Store:    st,
		Source:   h.source,
		Embedder: h.embedder,
		Now:      h.clock.Now,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) reconcile(t *testing.T, opts indexer.Options) *indexer.Summary {
	t.Helper()
	sum, err := h.indexer.Reconcile(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, sum)
	return sum
}

// counts extracts the four summary counters.
func counts(s *indexer.Summary) [4]int {
	return [4]int{s.NewlyIndexed, s.Empty, s.Errors, s.Deleted}
}

var errBackend = errors.New("backend exploded")
