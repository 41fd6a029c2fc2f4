// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import "time"

// Document is a clinical document as seen by the retrieval core.
type Document struct {
	ID           int64
	Title        string
	Content      string
	DocumentType string
	Department   string
	PatientID    *int64
	Sensitive    bool
	AuthorID     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentFilter narrows List results. Zero-valued fields do not filter.
// A non-nil empty IDs slice matches nothing.
type DocumentFilter struct {
	IDs        []int64
	Types      []string
	Department string
	PatientID  *int64
	Limit      int
	Offset     int
	// SkipContent leaves Content empty in the results, for callers that
	// only need the access attributes.
	SkipContent bool
}

// EmbeddingRecord is one persisted chunk embedding, owned by a Document.
type EmbeddingRecord struct {
	ID         int64
	DocumentID int64
	ChunkIndex int
	Content    string
	Vector     []float32
	CreatedAt  time.Time
}

// ChunkInput is a chunk ready to be written: its ordinal, text and vector.
type ChunkInput struct {
	Index  int
	Text   string
	Vector []float32
}

// SearchQuery describes a similarity search scoped to allowed documents.
type SearchQuery struct {
	Vector             []float32
	AllowedDocumentIDs []int64
	// Threshold is exclusive: only similarity > Threshold is returned.
	Threshold float64
	Limit     int
}

// SearchResult joins an embedding row with its parent document's metadata.
type SearchResult struct {
	EmbeddingID  int64   `json:"embedding_id"`
	DocumentID   int64   `json:"document_id"`
	ChunkIndex   int     `json:"chunk_index"`
	Content      string  `json:"content_chunk"`
	Title        string  `json:"document_title"`
	DocumentType string  `json:"document_type"`
	Department   string  `json:"department,omitempty"`
	Sensitive    bool    `json:"is_sensitive"`
	Similarity   float64 `json:"similarity"`
}
