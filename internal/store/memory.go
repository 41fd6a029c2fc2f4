// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ EmbeddingStore = (*MemoryStore)(nil)
	_ DocumentStore  = memoryDocuments{}
)

// MemoryStore is an in-process backend holding documents and embeddings
// behind one RWMutex. Similarity is computed exactly, so results match the
// SQLite backend for the same data.
type MemoryStore struct {
	mu         sync.RWMutex
	dims       int
	docs       map[int64]*Document
	embeddings map[int64][]*EmbeddingRecord
	nextDocID  int64
	nextEmbID  int64
	nowFunc    func() time.Time
}

// NewMemoryStore creates an empty store accepting vectors of length dims.
func NewMemoryStore(dims int) *MemoryStore {
	return &MemoryStore{
		dims:       dims,
		docs:       make(map[int64]*Document),
		embeddings: make(map[int64][]*EmbeddingRecord),
		nowFunc:    time.Now,
	}
}

// Documents returns a DocumentStore view sharing this store's state, so
// deleting a document cascades to its embeddings.
func (m *MemoryStore) Documents() DocumentStore {
	return memoryDocuments{m: m}
}

func (m *MemoryStore) Dimensions() int { return m.dims }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) StoreChunks(_ context.Context, documentID int64, chunks []ChunkInput) error {
	if err := ValidateChunks(documentID, chunks, m.dims); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[documentID]; !ok {
		return NotFound(documentID)
	}
	if len(m.embeddings[documentID]) > 0 {
		return ChunksExist(documentID)
	}
	m.putLocked(documentID, chunks)
	return nil
}

func (m *MemoryStore) ReplaceChunks(_ context.Context, documentID int64, chunks []ChunkInput) error {
	if err := ValidateChunks(documentID, chunks, m.dims); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[documentID]; !ok {
		return NotFound(documentID)
	}
	delete(m.embeddings, documentID)
	m.putLocked(documentID, chunks)
	return nil
}

func (m *MemoryStore) putLocked(documentID int64, chunks []ChunkInput) {
	if len(chunks) == 0 {
		return
	}
	now := m.nowFunc().UTC()
	records := make([]*EmbeddingRecord, 0, len(chunks))
	for _, c := range chunks {
		m.nextEmbID++
		records = append(records, &EmbeddingRecord{
			ID:         m.nextEmbID,
			DocumentID: documentID,
			ChunkIndex: c.Index,
			Content:    c.Text,
			Vector:     slices.Clone(c.Vector),
			CreatedAt:  now,
		})
	}
	m.embeddings[documentID] = records
}

func (m *MemoryStore) DeleteChunks(_ context.Context, documentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.embeddings, documentID)
	return nil
}

func (m *MemoryStore) CountChunks(_ context.Context, documentID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings[documentID]), nil
}

func (m *MemoryStore) ListChunks(_ context.Context, documentID int64) ([]*EmbeddingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.embeddings[documentID]
	out := make([]*EmbeddingRecord, 0, len(records))
	for _, r := range records {
		cp := *r
		cp.Vector = slices.Clone(r.Vector)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Search(_ context.Context, query SearchQuery) ([]SearchResult, error) {
	if len(query.AllowedDocumentIDs) == 0 {
		return []SearchResult{}, nil
	}
	if err := ValidateVector(query.Vector, m.dims); err != nil {
		return nil, err
	}
	query = query.Normalized()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []SearchResult
	for _, id := range uniqueIDs(query.AllowedDocumentIDs) {
		doc, ok := m.docs[id]
		if !ok {
			continue
		}
		for _, r := range m.embeddings[id] {
			sim := CosineSimilarity(query.Vector, r.Vector)
			if sim <= query.Threshold {
				continue
			}
			results = append(results, SearchResult{
				EmbeddingID:  r.ID,
				DocumentID:   id,
				ChunkIndex:   r.ChunkIndex,
				Content:      r.Content,
				Title:        doc.Title,
				DocumentType: doc.DocumentType,
				Department:   doc.Department,
				Sensitive:    doc.Sensitive,
				Similarity:   sim,
			})
		}
	}

	SortResults(results)
	if len(results) > query.Limit {
		results = results[:query.Limit]
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

// SortResults orders results by similarity descending, breaking ties by
// lowest document ID and then lowest chunk index.
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}

// CosineSimilarity returns 1 - cosine distance between a and b.
// Both vectors must have the same length and non-zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// memoryDocuments adapts MemoryStore to DocumentStore.
type memoryDocuments struct {
	m *MemoryStore
}

func (d memoryDocuments) Put(_ context.Context, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	d.m.mu.Lock()
	defer d.m.mu.Unlock()

	now := d.m.nowFunc().UTC()
	if doc.ID == 0 {
		d.m.nextDocID++
		doc.ID = d.m.nextDocID
		doc.CreatedAt = now
	} else if existing, ok := d.m.docs[doc.ID]; ok {
		doc.CreatedAt = existing.CreatedAt
	} else {
		if doc.ID > d.m.nextDocID {
			d.m.nextDocID = doc.ID
		}
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	cp := *doc
	d.m.docs[doc.ID] = &cp
	return nil
}

func (d memoryDocuments) Get(_ context.Context, id int64) (*Document, error) {
	d.m.mu.RLock()
	defer d.m.mu.RUnlock()

	doc, ok := d.m.docs[id]
	if !ok {
		return nil, NotFound(id)
	}
	cp := *doc
	return &cp, nil
}

func (d memoryDocuments) Delete(_ context.Context, id int64) error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()

	if _, ok := d.m.docs[id]; !ok {
		return NotFound(id)
	}
	delete(d.m.docs, id)
	delete(d.m.embeddings, id)
	return nil
}

func (d memoryDocuments) List(_ context.Context, filter DocumentFilter) ([]*Document, error) {
	d.m.mu.RLock()
	defer d.m.mu.RUnlock()

	var out []*Document
	for _, doc := range d.m.docs {
		if filter.Matches(doc) {
			cp := *doc
			if filter.SkipContent {
				cp.Content = ""
			}
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return filter.page(out), nil
}

func (d memoryDocuments) Close() error { return nil }

// Matches reports whether doc satisfies every set field of the filter.
func (f DocumentFilter) Matches(doc *Document) bool {
	if f.IDs != nil && !slices.Contains(f.IDs, doc.ID) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, doc.DocumentType) {
		return false
	}
	if f.Department != "" && doc.Department != f.Department {
		return false
	}
	if f.PatientID != nil && (doc.PatientID == nil || *doc.PatientID != *f.PatientID) {
		return false
	}
	return true
}

func (f DocumentFilter) page(docs []*Document) []*Document {
	if f.Offset > 0 {
		if f.Offset >= len(docs) {
			return nil
		}
		docs = docs[f.Offset:]
	}
	if f.Limit > 0 && len(docs) > f.Limit {
		docs = docs[:f.Limit]
	}
	return docs
}
