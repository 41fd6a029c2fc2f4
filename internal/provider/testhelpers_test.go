// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"sync"

	"github.com/sigil-dev/medrag/internal/provider"
)

// fakeEmbedder returns queued results per call and counts calls.
type fakeEmbedder struct {
	mu      sync.Mutex
	dims    int
	calls   int
	results []func(ctx context.Context, texts []string) ([][]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()

	if i < len(f.results) {
		return f.results[i](ctx, texts)
	}
	return constant(f.dims)(ctx, texts)
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) Model() string { return "fake-embed" }

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func constant(dims int) func(context.Context, []string) ([][]float32, error) {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			v := make([]float32, dims)
			v[0] = float32(i + 1)
			out[i] = v
		}
		return out, nil
	}
}

func failing(err error) func(context.Context, []string) ([][]float32, error) {
	return func(context.Context, []string) ([][]float32, error) { return nil, err }
}

// fakeGenerator answers with text or err and records the last request.
type fakeGenerator struct {
	mu     sync.Mutex
	text   string
	err    error
	last   provider.GenerateRequest
	calls  int
	closed bool
}

func (f *fakeGenerator) Generate(_ context.Context, req provider.GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Close() error {
	f.closed = true
	return nil
}
