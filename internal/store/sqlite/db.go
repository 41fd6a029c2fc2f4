// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// DB is a SQLite connection shared by the document and embedding stores.
// It is closed once, by whichever store is closed first.
type DB struct {
	sql       *sql.DB
	dims      int
	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the database at dbPath, applies migrations and
// pins the vector dimension. Reopening a database created with another
// dimension fails instead of mixing vector lengths.
func Open(dbPath string, dims int) (*DB, error) {
	if dims <= 0 {
		return nil, mederr.Errorf(mederr.CodeStoreInvalidInput, "vector dimensions must be positive, got %d", dims)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "migrating sqlite db: %w", err)
	}

	if err := pinDimensions(db, dims); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{sql: db, dims: dims}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	title         TEXT NOT NULL,
	content       TEXT NOT NULL DEFAULT '',
	document_type TEXT NOT NULL,
	department    TEXT NOT NULL DEFAULT '',
	patient_id    INTEGER,
	is_sensitive  INTEGER NOT NULL DEFAULT 0,
	author_id     INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_department ON documents(department);
CREATE INDEX IF NOT EXISTS idx_documents_patient ON documents(patient_id);

CREATE TABLE IF NOT EXISTS embeddings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
	UNIQUE (document_id, chunk_index)
);
`
	_, err := db.Exec(ddl)
	return err
}

const metaVectorDimensions = "vector_dimensions"

func pinDimensions(db *sql.DB, dims int) error {
	var stored string
	err := db.QueryRow(`SELECT value FROM store_meta WHERE key = ?`, metaVectorDimensions).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec(`INSERT INTO store_meta(key, value) VALUES (?, ?)`, metaVectorDimensions, strconv.Itoa(dims)); err != nil {
			return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "recording vector dimensions: %w", err)
		}
		return nil
	case err != nil:
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "reading vector dimensions: %w", err)
	}

	if stored != strconv.Itoa(dims) {
		return mederr.Errorf(mederr.CodeStoreDimensionMismatch,
			"database holds %s-dimensional vectors, configured for %d", stored, dims)
	}
	return nil
}

// Dimensions returns the pinned vector length.
func (d *DB) Dimensions() int { return d.dims }

// Close closes the underlying connection exactly once.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.sql.Close()
	})
	return d.closeErr
}

// inTx runs fn inside a transaction, rolling back on error or panic.
func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "committing transaction: %w", err)
	}
	return nil
}

// formatTime serialises a time as RFC3339Nano UTC; zero times become "".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
