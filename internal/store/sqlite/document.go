// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// Compile-time interface check.
var _ store.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements store.DocumentStore on the shared DB.
type DocumentStore struct {
	db      *DB
	nowFunc func() time.Time
}

// NewDocumentStore returns a DocumentStore over db.
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db, nowFunc: time.Now}
}

func (s *DocumentStore) Close() error { return s.db.Close() }

func (s *DocumentStore) Put(ctx context.Context, doc *store.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	now := s.nowFunc().UTC()
	if doc.ID == 0 {
		return s.insert(ctx, doc, now)
	}

	const q = `UPDATE documents
SET title = ?, content = ?, document_type = ?, department = ?, patient_id = ?, is_sensitive = ?, author_id = ?, updated_at = ?
WHERE id = ?`
	res, err := s.db.sql.ExecContext(ctx, q,
		doc.Title, doc.Content, doc.DocumentType, doc.Department,
		nullableID(doc.PatientID), doc.Sensitive, doc.AuthorID, formatTime(now),
		doc.ID,
	)
	if err != nil {
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "updating document %d: %w", doc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "updating document %d: %w", doc.ID, err)
	}
	if n == 0 {
		// Unknown explicit ID: the portal owns ID assignment, so accept it.
		return s.insert(ctx, doc, now)
	}
	doc.UpdatedAt = now
	return nil
}

func (s *DocumentStore) insert(ctx context.Context, doc *store.Document, now time.Time) error {
	const q = `INSERT INTO documents (id, title, content, document_type, department, patient_id, is_sensitive, author_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var id any
	if doc.ID != 0 {
		id = doc.ID
	}
	res, err := s.db.sql.ExecContext(ctx, q,
		id, doc.Title, doc.Content, doc.DocumentType, doc.Department,
		nullableID(doc.PatientID), doc.Sensitive, doc.AuthorID,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "inserting document %q: %w", doc.Title, err)
	}
	if doc.ID == 0 {
		newID, err := res.LastInsertId()
		if err != nil {
			return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "reading new document id: %w", err)
		}
		doc.ID = newID
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return nil
}

const documentColumns = `id, title, content, document_type, department, patient_id, is_sensitive, author_id, created_at, updated_at`

// attributeColumns matches documentColumns with the content left out.
const attributeColumns = `id, title, '', document_type, department, patient_id, is_sensitive, author_id, created_at, updated_at`

func (s *DocumentStore) Get(ctx context.Context, id int64) (*store.Document, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(id)
	}
	if err != nil {
		return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "getting document %d: %w", id, err)
	}
	return doc, nil
}

// Delete removes the document; the foreign key cascades to embeddings.
func (s *DocumentStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "deleting document %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mederr.Errorf(mederr.CodeStoreDatabaseFailure, "deleting document %d: %w", id, err)
	}
	if n == 0 {
		return store.NotFound(id)
	}
	return nil
}

func (s *DocumentStore) List(ctx context.Context, filter store.DocumentFilter) ([]*store.Document, error) {
	if filter.IDs != nil && len(filter.IDs) == 0 {
		return nil, nil
	}

	var where []string
	var args []any

	if filter.IDs != nil {
		ids, err := json.Marshal(filter.IDs)
		if err != nil {
			return nil, mederr.Errorf(mederr.CodeStoreInvalidInput, "encoding id filter: %w", err)
		}
		where = append(where, `id IN (SELECT value FROM json_each(?))`)
		args = append(args, string(ids))
	}
	if len(filter.Types) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Types))
		where = append(where, `document_type IN (`+placeholders[:len(placeholders)-1]+`)`)
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	if filter.Department != "" {
		where = append(where, `department = ?`)
		args = append(args, filter.Department)
	}
	if filter.PatientID != nil {
		where = append(where, `patient_id = ?`)
		args = append(args, *filter.PatientID)
	}

	columns := documentColumns
	if filter.SkipContent {
		columns = attributeColumns
	}
	q := `SELECT ` + columns + ` FROM documents`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY id`
	if filter.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		q += ` LIMIT -1 OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "listing documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*store.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, mederr.Errorf(mederr.CodeStoreDatabaseFailure, "iterating documents: %w", err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*store.Document, error) {
	var doc store.Document
	var patientID sql.NullInt64
	var createdAt, updatedAt string

	if err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Content,
		&doc.DocumentType,
		&doc.Department,
		&patientID,
		&doc.Sensitive,
		&doc.AuthorID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if patientID.Valid {
		id := patientID.Int64
		doc.PatientID = &id
	}
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return &doc, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
