// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import "context"

// DocumentStore is the relational record store for clinical documents.
// The RAG core only reads documents; CRUD is owned by the portal and routed
// through this interface so embeddings can cascade with their parent.
type DocumentStore interface {
	// Put inserts doc when doc.ID is zero (assigning the new ID) and
	// updates the existing row otherwise.
	Put(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id int64) (*Document, error)
	// Delete removes the document and, by cascade, all of its embeddings.
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter DocumentFilter) ([]*Document, error)
	Close() error
}

// EmbeddingStore persists per-document chunk embeddings and answers
// similarity queries restricted to an allow-list of documents.
type EmbeddingStore interface {
	// StoreChunks commits all chunks for a document in a single transaction.
	// It fails with a conflict if the document already has embeddings.
	StoreChunks(ctx context.Context, documentID int64, chunks []ChunkInput) error

	// ReplaceChunks atomically swaps the document's embedding set.
	// Readers observe either the old or the new set, never a mix.
	ReplaceChunks(ctx context.Context, documentID int64, chunks []ChunkInput) error

	DeleteChunks(ctx context.Context, documentID int64) error
	CountChunks(ctx context.Context, documentID int64) (int, error)
	ListChunks(ctx context.Context, documentID int64) ([]*EmbeddingRecord, error)

	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)

	// Dimensions is the fixed vector length accepted by this store.
	Dimensions() int
	Close() error
}

// Stores bundles the two stores opened against one backend.
type Stores struct {
	Documents  DocumentStore
	Embeddings EmbeddingStore
}

// Close closes both stores, returning the first error.
func (s *Stores) Close() error {
	var first error
	if s.Embeddings != nil {
		if err := s.Embeddings.Close(); err != nil {
			first = err
		}
	}
	if s.Documents != nil {
		if err := s.Documents.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
