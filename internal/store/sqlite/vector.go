// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// Compile-time interface check.
var _ store.EmbeddingStore = (*EmbeddingStore)(nil)

// EmbeddingStore implements store.EmbeddingStore on the shared DB.
// Vectors are stored as sqlite-vec float32 blobs and compared with
// vec_distance_cosine, so a search is an exact scan over the allowed
// documents rather than an approximate index lookup.
type EmbeddingStore struct {
	db      *DB
	nowFunc func() time.Time
}

// NewEmbeddingStore returns an EmbeddingStore over db.
func NewEmbeddingStore(db *DB) *EmbeddingStore {
	return &EmbeddingStore{db: db, nowFunc: time.Now}
}

func (s *EmbeddingStore) Dimensions() int { return s.db.Dimensions() }

func (s *EmbeddingStore) Close() error { return s.db.Close() }

// StoreChunks writes the complete chunk set in one transaction. It fails
// with a conflict when the document already has embeddings.
func (s *EmbeddingStore) StoreChunks(ctx context.Context, documentID int64, chunks []store.ChunkInput) error {
	if err := store.ValidateChunks(documentID, chunks, s.db.Dimensions()); err != nil {
		return err
	}

	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireDocument(ctx, tx, documentID); err != nil {
			return err
		}

		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE document_id = ?`, documentID).Scan(&existing); err != nil {
			return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "counting embeddings for document %d: %w", documentID, err)
		}
		if existing > 0 {
			return store.ChunksExist(documentID)
		}

		return s.insertChunks(ctx, tx, documentID, chunks)
	})
}

// ReplaceChunks deletes and re-inserts the chunk set in one transaction.
func (s *EmbeddingStore) ReplaceChunks(ctx context.Context, documentID int64, chunks []store.ChunkInput) error {
	if err := store.ValidateChunks(documentID, chunks, s.db.Dimensions()); err != nil {
		return err
	}

	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireDocument(ctx, tx, documentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, documentID); err != nil {
			return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "clearing embeddings for document %d: %w", documentID, err)
		}
		return s.insertChunks(ctx, tx, documentID, chunks)
	})
}

func (s *EmbeddingStore) insertChunks(ctx context.Context, tx *sql.Tx, documentID int64, chunks []store.ChunkInput) error {
	if len(chunks) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO embeddings (document_id, chunk_index, content, embedding, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "preparing embedding insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := formatTime(s.nowFunc())
	for _, c := range chunks {
		blob, err := sqlite_vec.SerializeFloat32(c.Vector)
		if err != nil {
			return mederr.Errorf(mederr.CodeStoreInvalidInput, "serializing chunk %d: %w", c.Index, err)
		}
		if _, err := stmt.ExecContext(ctx, documentID, c.Index, c.Text, blob, now); err != nil {
			return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "inserting chunk %d of document %d: %w", c.Index, documentID, err)
		}
	}
	return nil
}

func requireDocument(ctx context.Context, tx *sql.Tx, documentID int64) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&one)
	if err == sql.ErrNoRows {
		return store.NotFound(documentID)
	}
	if err != nil {
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "checking document %d: %w", documentID, err)
	}
	return nil
}

func (s *EmbeddingStore) DeleteChunks(ctx context.Context, documentID int64) error {
	if _, err := s.db.sql.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, documentID); err != nil {
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "deleting embeddings for document %d: %w", documentID, err)
	}
	return nil
}

func (s *EmbeddingStore) CountChunks(ctx context.Context, documentID int64) (int, error) {
	var n int
	if err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE document_id = ?`, documentID).Scan(&n); err != nil {
		return 0, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "counting embeddings for document %d: %w", documentID, err)
	}
	return n, nil
}

func (s *EmbeddingStore) ListChunks(ctx context.Context, documentID int64) ([]*store.EmbeddingRecord, error) {
	const q = `SELECT id, document_id, chunk_index, content, embedding, created_at
FROM embeddings WHERE document_id = ? ORDER BY chunk_index`

	rows, err := s.db.sql.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "listing embeddings for document %d: %w", documentID, err)
	}
	defer func() { _ = rows.Close() }()

	records := []*store.EmbeddingRecord{}
	for rows.Next() {
		var r store.EmbeddingRecord
		var blob []byte
		var createdAt string
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.ChunkIndex, &r.Content, &blob, &createdAt); err != nil {
			return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "scanning embedding: %w", err)
		}
		r.Vector = deserializeFloat32(blob)
		r.CreatedAt = parseTime(createdAt)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "iterating embeddings: %w", err)
	}
	return records, nil
}

// Search returns chunks of allowed documents whose similarity to the query
// exceeds the threshold, ordered by similarity descending, then document ID
// and chunk index ascending. An empty allow-list yields no results without
// touching the database.
func (s *EmbeddingStore) Search(ctx context.Context, query store.SearchQuery) ([]store.SearchResult, error) {
	if len(query.AllowedDocumentIDs) == 0 {
		return []store.SearchResult{}, nil
	}
	if err := store.ValidateVector(query.Vector, s.db.Dimensions()); err != nil {
		return nil, err
	}
	query = query.Normalized()

	blob, err := sqlite_vec.SerializeFloat32(query.Vector)
	if err != nil {
		return nil, mederr.Errorf(mederr.CodeStoreInvalidInput, "serializing query vector: %w", err)
	}
	allowed, err := json.Marshal(query.AllowedDocumentIDs)
	if err != nil {
		return nil, mederr.Errorf(mederr.CodeStoreInvalidInput, "encoding allow-list: %w", err)
	}

	// The allow-list travels as one JSON parameter so its size is not
	// bounded by SQLITE_MAX_VARIABLE_NUMBER.
	const q = `SELECT id, document_id, chunk_index, content, title, document_type, department, is_sensitive, similarity
FROM (
	SELECT e.id, e.document_id, e.chunk_index, e.content,
		d.title, d.document_type, d.department, d.is_sensitive,
		1 - vec_distance_cosine(e.embedding, ?) AS similarity
	FROM embeddings e
	JOIN documents d ON d.id = e.document_id
	WHERE e.document_id IN (SELECT value FROM json_each(?))
)
WHERE similarity > ?
ORDER BY similarity DESC, document_id ASC, chunk_index ASC
LIMIT ?`

	rows, err := s.db.sql.QueryContext(ctx, q, blob, string(allowed), query.Threshold, query.Limit)
	if err != nil {
		return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "searching embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := []store.SearchResult{}
	for rows.Next() {
		var r store.SearchResult
		if err := rows.Scan(
			&r.EmbeddingID,
			&r.DocumentID,
			&r.ChunkIndex,
			&r.Content,
			&r.Title,
			&r.DocumentType,
			&r.Department,
			&r.Sensitive,
			&r.Similarity,
		); err != nil {
			return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "scanning search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "iterating search results: %w", err)
	}
	return results, nil
}

// deserializeFloat32 is the inverse of sqlite_vec.SerializeFloat32, which
// writes little-endian IEEE 754 values.
func deserializeFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
