// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"sync"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// DefaultVectorDimensions matches OpenAI text-embedding-3-small.
const DefaultVectorDimensions = 1536

// Factory opens the document and embedding stores for a backend.
type Factory func(path string, vectorDims int) (*Stores, error)

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

func init() {
	RegisterBackend("memory", func(_ string, dims int) (*Stores, error) {
		m := NewMemoryStore(dims)
		return &Stores{Documents: m.Documents(), Embeddings: m}, nil
	})
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// Open creates the stores for cfg. The sqlite backend is only available
// when its package has been imported for side effects.
func Open(cfg *StorageConfig) (*Stores, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, mederr.Errorf(mederr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	dims := DefaultVectorDimensions
	if cfg.VectorDimensions > 0 {
		dims = cfg.VectorDimensions
	}

	return factory(cfg.Path, dims)
}
