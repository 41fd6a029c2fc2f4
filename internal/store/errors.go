// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"errors"
	"fmt"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// Sentinel errors for store operations.
// These errors can be checked using errors.Is() for classification.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the document already has an embedding set and
	// must be replaced rather than appended to.
	ErrConflict = errors.New("conflict")
)

// NotFound builds a coded not-found error for a document.
func NotFound(documentID int64) error {
	return mederr.Wrap(
		fmt.Errorf("document %d: %w", documentID, ErrNotFound),
		mederr.CodeStoreDocumentNotFound, "document not found",
		mederr.FieldDocumentID(documentID),
	)
}

// ChunksExist builds a coded conflict error for StoreChunks on a document
// that already has embeddings.
func ChunksExist(documentID int64) error {
	return mederr.Wrap(
		fmt.Errorf("document %d: %w", documentID, ErrConflict),
		mederr.CodeStoreChunksConflict, "document already has embeddings",
		mederr.FieldDocumentID(documentID),
	)
}
