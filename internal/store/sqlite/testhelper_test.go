// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sigil-dev/medrag/internal/store"
	"github.com/sigil-dev/medrag/internal/store/sqlite"
	"github.com/stretchr/testify/require"
)

// testDir creates a temp directory for a test and returns cleanup func.
func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "medrag-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(testDir(t), name+".db")
}

// openDB opens a 3-dimensional store in a temp directory.
func openDB(t *testing.T) (*sqlite.DocumentStore, *sqlite.EmbeddingStore) {
	t.Helper()
	db, err := sqlite.Open(testDBPath(t, "medrag"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlite.NewDocumentStore(db), sqlite.NewEmbeddingStore(db)
}

// putDoc inserts a document and returns its assigned ID.
func putDoc(t *testing.T, docs *sqlite.DocumentStore, title string) int64 {
	t.Helper()
	doc := &store.Document{Title: title, DocumentType: "note", Content: title + " body"}
	require.NoError(t, docs.Put(context.Background(), doc))
	return doc.ID
}
