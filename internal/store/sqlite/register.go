// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"os"
	"path/filepath"

	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// DefaultFileName is used when the configured path is a directory or empty.
const DefaultFileName = "medrag.db"

func init() {
	store.RegisterBackend("sqlite", newStores)
}

func newStores(path string, vectorDims int) (*store.Stores, error) {
	dbPath, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	db, err := Open(dbPath, vectorDims)
	if err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeStoreDatabaseFailure, "opening store at %s", dbPath)
	}

	return &store.Stores{
		Documents:  NewDocumentStore(db),
		Embeddings: NewEmbeddingStore(db),
	}, nil
}

// resolvePath maps an empty path to DefaultFileName in the working
// directory and an existing directory to DefaultFileName inside it.
func resolvePath(path string) (string, error) {
	if path == "" {
		return DefaultFileName, nil
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return filepath.Join(path, DefaultFileName), nil
	case err == nil || os.IsNotExist(err):
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return "", mederr.Errorf(mederr.CodeStoreDatabaseFailure, "creating store directory %s: %w", dir, err)
			}
		}
		return path, nil
	default:
		return "", mederr.Errorf(mederr.CodeStoreDatabaseFailure, "checking store path %s: %w", path, err)
	}
}
