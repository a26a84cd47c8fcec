// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package store

import (
	"sync"

	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// DefaultVectorDimensions matches nomic-embed-text.
const DefaultVectorDimensions = 768

// Factory opens an index store rooted at dataDir with the given vector
// dimensions. The returned store has its schema initialised.
type Factory func(dataDir string, vectorDims int) (IndexStore, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// Open creates the index store for dataDir using the configured backend.
func Open(cfg *StorageConfig, dataDir string) (IndexStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, tmerr.Errorf(tmerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	dims := DefaultVectorDimensions
	if cfg.VectorDimensions > 0 {
		dims = cfg.VectorDimensions
	}

	return factory(dataDir, dims)
}
