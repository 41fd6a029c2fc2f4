// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"context"
	"testing"

	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T) (*store.MemoryStore, store.DocumentStore) {
	t.Helper()
	m := store.NewMemoryStore(2)
	return m, m.Documents()
}

func addDoc(t *testing.T, docs store.DocumentStore, title string) int64 {
	t.Helper()
	doc := &store.Document{Title: title, DocumentType: "note"}
	require.NoError(t, docs.Put(context.Background(), doc))
	return doc.ID
}

func TestMemoryStore_Search(t *testing.T) {
	ctx := context.Background()
	m, docs := newMemory(t)

	a := addDoc(t, docs, "a")
	b := addDoc(t, docs, "b")
	hidden := addDoc(t, docs, "hidden")

	require.NoError(t, m.StoreChunks(ctx, a, []store.ChunkInput{
		{Index: 0, Text: "a0", Vector: []float32{1, 0}},
		{Index: 1, Text: "a1", Vector: []float32{0, 1}},
	}))
	require.NoError(t, m.StoreChunks(ctx, b, []store.ChunkInput{
		{Index: 0, Text: "b0", Vector: []float32{1, 0}},
	}))
	require.NoError(t, m.StoreChunks(ctx, hidden, []store.ChunkInput{
		{Index: 0, Text: "h0", Vector: []float32{1, 0}},
	}))

	results, err := m.Search(ctx, store.SearchQuery{
		Vector:             []float32{1, 0},
		AllowedDocumentIDs: []int64{b, a, a},
		Threshold:          0.5,
		Limit:              10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, a, results[0].DocumentID)
	assert.Equal(t, "a0", results[0].Content)
	assert.Equal(t, b, results[1].DocumentID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
}

func TestMemoryStore_SearchThresholdIsExclusive(t *testing.T) {
	ctx := context.Background()
	m, docs := newMemory(t)
	id := addDoc(t, docs, "doc")

	require.NoError(t, m.StoreChunks(ctx, id, []store.ChunkInput{
		{Index: 0, Text: "x", Vector: []float32{0, 1}},
	}))

	// Orthogonal vectors have similarity exactly 0.
	results, err := m.Search(ctx, store.SearchQuery{
		Vector:             []float32{1, 0},
		AllowedDocumentIDs: []int64{id},
		Threshold:          0,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryStore_SearchEmptyAllowList(t *testing.T) {
	m, _ := newMemory(t)

	results, err := m.Search(context.Background(), store.SearchQuery{Vector: []float32{1, 0}, AllowedDocumentIDs: []int64{}})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestMemoryStore_StoreChunksConflictAndReplace(t *testing.T) {
	ctx := context.Background()
	m, docs := newMemory(t)
	id := addDoc(t, docs, "doc")

	first := []store.ChunkInput{{Index: 0, Text: "old", Vector: []float32{1, 0}}}
	require.NoError(t, m.StoreChunks(ctx, id, first))

	err := m.StoreChunks(ctx, id, first)
	require.Error(t, err)
	assert.True(t, mederr.IsConflict(err))

	require.NoError(t, m.ReplaceChunks(ctx, id, []store.ChunkInput{
		{Index: 0, Text: "new0", Vector: []float32{0, 1}},
		{Index: 1, Text: "new1", Vector: []float32{1, 1}},
	}))

	records, err := m.ListChunks(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new0", records[0].Content)

	// Returned vectors are copies.
	records[0].Vector[0] = 9
	again, err := m.ListChunks(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float32(0), again[0].Vector[0])
}

func TestMemoryStore_StoreChunksUnknownDocument(t *testing.T) {
	m, _ := newMemory(t)

	err := m.StoreChunks(context.Background(), 99, []store.ChunkInput{{Index: 0, Vector: []float32{1, 0}}})
	require.Error(t, err)
	assert.True(t, mederr.IsNotFound(err))
}

func TestMemoryStore_DeleteDocumentCascades(t *testing.T) {
	ctx := context.Background()
	m, docs := newMemory(t)
	id := addDoc(t, docs, "doc")

	require.NoError(t, m.StoreChunks(ctx, id, []store.ChunkInput{{Index: 0, Vector: []float32{1, 0}}}))
	require.NoError(t, docs.Delete(ctx, id))

	n, err := m.CountChunks(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = docs.Get(ctx, id)
	assert.True(t, mederr.IsNotFound(err))
}

func TestMemoryDocuments_PutKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	_, docs := newMemory(t)

	doc := &store.Document{Title: "v1", DocumentType: "note"}
	require.NoError(t, docs.Put(ctx, doc))
	created := doc.CreatedAt

	doc.Title = "v2"
	require.NoError(t, docs.Put(ctx, doc))

	got, err := docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Title)
	assert.Equal(t, created, got.CreatedAt)
}

func TestMemoryDocuments_ExplicitIDAdvancesCounter(t *testing.T) {
	ctx := context.Background()
	_, docs := newMemory(t)

	require.NoError(t, docs.Put(ctx, &store.Document{ID: 10, Title: "t", DocumentType: "note"}))
	next := &store.Document{Title: "n", DocumentType: "note"}
	require.NoError(t, docs.Put(ctx, next))
	assert.Equal(t, int64(11), next.ID)
}

func TestMemoryDocuments_List(t *testing.T) {
	ctx := context.Background()
	_, docs := newMemory(t)

	require.NoError(t, docs.Put(ctx, &store.Document{Title: "a", DocumentType: "note", Department: "icu"}))
	require.NoError(t, docs.Put(ctx, &store.Document{Title: "b", DocumentType: "lab", Department: "icu"}))
	require.NoError(t, docs.Put(ctx, &store.Document{Title: "c", DocumentType: "note"}))

	got, err := docs.List(ctx, store.DocumentFilter{Department: "icu"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Title)

	got, err = docs.List(ctx, store.DocumentFilter{Types: []string{"note"}, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].Title)

	got, err = docs.List(ctx, store.DocumentFilter{IDs: []int64{}})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, docs.Put(ctx, &store.Document{Title: "d", Content: "body", DocumentType: "note"}))
	got, err = docs.List(ctx, store.DocumentFilter{SkipContent: true})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Empty(t, got[3].Content)

	full, err := docs.Get(ctx, got[3].ID)
	require.NoError(t, err)
	assert.Equal(t, "body", full.Content, "listing never mutates the stored document")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, store.CosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, store.CosineSimilarity([]float32{1, 0}, []float32{0, 3}), 1e-9)
	assert.InDelta(t, -1.0, store.CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}
