// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sigil-dev/medrag/internal/authz"
	"github.com/sigil-dev/medrag/internal/provider"
	"github.com/sigil-dev/medrag/internal/rag"
	"github.com/sigil-dev/medrag/internal/store"
	"github.com/stretchr/testify/require"
)

// letterEmbedder maps text to the counts of 'a', 'b' and 'c' plus a small
// floor, so similarity follows letter composition.
type letterEmbedder struct {
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration
	// fail, when set, is consulted before embedding.
	fail func(ctx context.Context, text string) error
}

func (e *letterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.fail != nil {
		if err := e.fail(ctx, text); err != nil {
			return nil, err
		}
	}
	return letterVector(text), nil
}

func (e *letterEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *letterEmbedder) Dimensions() int { return 3 }
func (e *letterEmbedder) Model() string   { return "letters" }

func letterVector(text string) []float32 {
	return []float32{
		float32(strings.Count(text, "a")) + 0.01,
		float32(strings.Count(text, "b")) + 0.01,
		float32(strings.Count(text, "c")) + 0.01,
	}
}

type recordingGenerator struct {
	mu   sync.Mutex
	reqs []provider.GenerateRequest
	text string
	err  error
}

func (g *recordingGenerator) Generate(_ context.Context, req provider.GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return "", g.err
	}
	return g.text, nil
}

func (g *recordingGenerator) last(t *testing.T) provider.GenerateRequest {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.reqs)
	return g.reqs[len(g.reqs)-1]
}

// allowAll permits every document in docs, or fails with err.
type allowAll struct {
	docs store.DocumentStore
	err  error
}

func (a allowAll) IsAllowed(context.Context, authz.Subject, string, authz.Resource) (bool, error) {
	return a.err == nil, a.err
}

func (a allowAll) FilterAllowed(ctx context.Context, _ authz.Subject, _, _ string) ([]int64, error) {
	if a.err != nil {
		return nil, a.err
	}
	docs, err := a.docs.List(ctx, store.DocumentFilter{})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

var errUpstream = errors.New("upstream unavailable")

type harness struct {
	svc      *rag.Service
	mem      *store.MemoryStore
	docs     store.DocumentStore
	embedder *letterEmbedder
	gen      *recordingGenerator
}

type harnessOption func(*rag.Config, *rag.Deps)

func withAuthorizer(a authz.Authorizer) harnessOption {
	return func(_ *rag.Config, d *rag.Deps) { d.Authorizer = a }
}

func withConfig(fn func(*rag.Config)) harnessOption {
	return func(c *rag.Config, _ *rag.Deps) { fn(c) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	mem := store.NewMemoryStore(3)
	h := &harness{
		mem:      mem,
		docs:     mem.Documents(),
		embedder: &letterEmbedder{},
		gen:      &recordingGenerator{text: "generated answer"},
	}

	cfg := rag.DefaultConfig()
	cfg.Generation.Model = "openai/gpt-4o-mini"
	deps := rag.Deps{
		Embedder:   h.embedder,
		Embeddings: mem,
		Documents:  h.docs,
		Generator:  h.gen,
		Authorizer: allowAll{docs: h.docs},
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	svc, err := rag.NewService(cfg, deps)
	require.NoError(t, err)
	h.svc = svc
	return h
}

// putDoc persists a document without embedding it.
func (h *harness) putDoc(t *testing.T, doc store.Document) *store.Document {
	t.Helper()
	if doc.DocumentType == "" {
		doc.DocumentType = "note"
	}
	require.NoError(t, h.docs.Put(context.Background(), &doc))
	return &doc
}

// threeSegment builds 2500 runes: 800 'a', 800 'b', 900 'c'. With
// 1000/200 windows the chunks are a-heavy, b-heavy and all c.
func threeSegment() string {
	return strings.Repeat("a", 800) + strings.Repeat("b", 800) + strings.Repeat("c", 900)
}
