// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"math"
	"testing"

	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     store.Document
		wantErr bool
	}{
		{name: "valid", doc: store.Document{Title: "t", DocumentType: "note"}},
		{name: "missing title", doc: store.Document{DocumentType: "note"}, wantErr: true},
		{name: "missing type", doc: store.Document{Title: "t"}, wantErr: true},
		{name: "negative id", doc: store.Document{ID: -1, Title: "t", DocumentType: "note"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, mederr.IsInvalidInput(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateVector(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name     string
		vec      []float32
		wantCode mederr.Code
	}{
		{name: "valid", vec: []float32{1, 2, 3}},
		{name: "short", vec: []float32{1, 2}, wantCode: mederr.CodeStoreDimensionMismatch},
		{name: "long", vec: []float32{1, 2, 3, 4}, wantCode: mederr.CodeStoreDimensionMismatch},
		{name: "nan", vec: []float32{1, nan, 3}, wantCode: mederr.CodeStoreInvalidInput},
		{name: "inf", vec: []float32{inf, 0, 0}, wantCode: mederr.CodeStoreInvalidInput},
		{name: "zero", vec: []float32{0, 0, 0}, wantCode: mederr.CodeStoreInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ValidateVector(tt.vec, 3)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, mederr.CodeOf(err))
			assert.True(t, mederr.IsInvalidInput(err))
		})
	}
}

func TestValidateChunks(t *testing.T) {
	v := []float32{1, 0}

	assert.NoError(t, store.ValidateChunks(1, nil, 2))
	assert.NoError(t, store.ValidateChunks(1, []store.ChunkInput{{Index: 0, Vector: v}, {Index: 1, Vector: v}}, 2))

	err := store.ValidateChunks(0, nil, 2)
	assert.True(t, mederr.IsInvalidInput(err))

	err = store.ValidateChunks(1, []store.ChunkInput{{Index: 1, Vector: v}}, 2)
	require.Error(t, err)
	assert.Equal(t, 1, mederr.FieldsOf(err)["chunk_index"])

	err = store.ValidateChunks(1, []store.ChunkInput{{Index: 0, Vector: []float32{1}}}, 2)
	require.Error(t, err)
	assert.True(t, mederr.HasCode(err, mederr.CodeStoreDimensionMismatch))
}

func TestSearchQueryNormalized(t *testing.T) {
	assert.Equal(t, 5, store.SearchQuery{}.Normalized().Limit)
	assert.Equal(t, 5, store.SearchQuery{Limit: -3}.Normalized().Limit)
	assert.Equal(t, 12, store.SearchQuery{Limit: 12}.Normalized().Limit)
}
