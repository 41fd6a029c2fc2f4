// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"math"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// Validate checks that the Document has the fields the store requires.
func (d Document) Validate() error {
	if d.Title == "" {
		return mederr.New(mederr.CodeStoreInvalidInput, "document: Title is required")
	}
	if d.DocumentType == "" {
		return mederr.New(mederr.CodeStoreInvalidInput, "document: DocumentType is required")
	}
	if d.ID < 0 {
		return mederr.Errorf(mederr.CodeStoreInvalidInput, "document: ID must not be negative, got %d", d.ID)
	}
	return nil
}

// ValidateChunks checks a chunk set before it is written: indices must form
// the dense sequence 0..n-1 in order and every vector must have dims entries.
func ValidateChunks(documentID int64, chunks []ChunkInput, dims int) error {
	if documentID <= 0 {
		return mederr.Errorf(mederr.CodeStoreInvalidInput, "chunks: invalid document id %d", documentID)
	}
	for i, c := range chunks {
		if c.Index != i {
			return mederr.New(mederr.CodeStoreInvalidInput, "chunks: indices must be dense and 0-based",
				mederr.FieldDocumentID(documentID),
				mederr.Field("position", i),
				mederr.Field("chunk_index", c.Index),
			)
		}
		if err := ValidateVector(c.Vector, dims); err != nil {
			return mederr.With(err, mederr.FieldDocumentID(documentID), mederr.Field("chunk_index", c.Index))
		}
	}
	return nil
}

// ValidateVector rejects vectors whose length differs from dims, that carry
// NaN/Inf components, or that have zero magnitude. Cosine similarity is
// undefined for the latter two.
func ValidateVector(v []float32, dims int) error {
	if len(v) != dims {
		return mederr.Errorf(mederr.CodeStoreDimensionMismatch,
			"vector has %d dimensions, store expects %d", len(v), dims)
	}
	var norm float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return mederr.New(mederr.CodeStoreInvalidInput, "vector contains NaN or Inf")
		}
		norm += f * f
	}
	if norm == 0 {
		return mederr.New(mederr.CodeStoreInvalidInput, "vector has zero magnitude")
	}
	return nil
}

// Normalized returns q with defaults applied: a non-positive limit
// becomes defaultSearchLimit.
func (q SearchQuery) Normalized() SearchQuery {
	if q.Limit <= 0 {
		q.Limit = defaultSearchLimit
	}
	return q
}

const defaultSearchLimit = 5
