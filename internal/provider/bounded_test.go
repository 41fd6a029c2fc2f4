// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sigil-dev/medrag/internal/provider"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBounded(t *testing.T, inner provider.Embedder, cfg provider.BoundedConfig) *provider.Bounded {
	t.Helper()
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	b, err := provider.NewBounded(inner, cfg)
	require.NoError(t, err)
	return b
}

func TestBounded_PreservesOrder(t *testing.T) {
	b := newBounded(t, &fakeEmbedder{dims: 3}, provider.BoundedConfig{})

	vecs, err := b.EmbedMany(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0])
	}
	assert.Equal(t, 3, b.Dimensions())
	assert.Equal(t, "fake-embed", b.Model())
}

func TestBounded_EmptyInput(t *testing.T) {
	inner := &fakeEmbedder{dims: 3}
	b := newBounded(t, inner, provider.BoundedConfig{})

	vecs, err := b.EmbedMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, inner.Calls())
}

func TestBounded_RetriesTransientFailure(t *testing.T) {
	inner := &fakeEmbedder{dims: 3, results: []func(context.Context, []string) ([][]float32, error){
		failing(errors.New("503 service unavailable")),
	}}
	b := newBounded(t, inner, provider.BoundedConfig{MaxAttempts: 3})

	v, err := b.Embed(context.Background(), "chest pain")
	require.NoError(t, err)
	assert.Len(t, v, 3)
	assert.Equal(t, 2, inner.Calls())
	assert.True(t, b.Metrics().Available)
}

func TestBounded_GivesUpAfterMaxAttempts(t *testing.T) {
	cause := errors.New("quota exceeded")
	inner := &fakeEmbedder{dims: 3, results: []func(context.Context, []string) ([][]float32, error){
		failing(cause), failing(cause), failing(cause), failing(cause),
	}}
	b := newBounded(t, inner, provider.BoundedConfig{MaxAttempts: 2})

	_, err := b.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, mederr.IsEmbedding(err))
	assert.True(t, mederr.HasCode(err, mederr.CodeEmbeddingUpstreamFailure))
	assert.Equal(t, 2, inner.Calls())
	assert.False(t, b.Metrics().Available)
	assert.Equal(t, int64(2), b.Metrics().FailureCount)
}

func TestBounded_DoesNotRetryRejectedRequest(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int
	}{
		{name: "unauthorized", status: 401, wantCalls: 1},
		{name: "bad request", status: 400, wantCalls: 1},
		{name: "request timeout", status: 408, wantCalls: 3},
		{name: "rate limited", status: 429, wantCalls: 3},
		{name: "server error", status: 500, wantCalls: 3},
		{name: "no status", status: 0, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := provider.EmbeddingStatusFailure(errors.New("upstream said no"), tt.status, "embed failed")
			inner := &fakeEmbedder{dims: 3, results: []func(context.Context, []string) ([][]float32, error){
				failing(upstream), failing(upstream), failing(upstream),
			}}
			b := newBounded(t, inner, provider.BoundedConfig{MaxAttempts: 3})

			_, err := b.Embed(context.Background(), "x")
			require.Error(t, err)
			assert.True(t, mederr.IsEmbedding(err))
			assert.Equal(t, tt.wantCalls, inner.Calls())
		})
	}
}

func TestRejectedStatus(t *testing.T) {
	for status, want := range map[int]bool{0: false, 200: false, 400: true, 401: true, 404: true, 408: false, 429: false, 500: false, 503: false} {
		assert.Equal(t, want, provider.RejectedStatus(status), "status %d", status)
	}
}

func TestBounded_TimeoutPerAttempt(t *testing.T) {
	slow := func(ctx context.Context, _ []string) ([][]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	inner := &fakeEmbedder{dims: 3, results: []func(context.Context, []string) ([][]float32, error){slow, slow}}
	b := newBounded(t, inner, provider.BoundedConfig{Timeout: 10 * time.Millisecond, MaxAttempts: 2})

	_, err := b.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, mederr.IsTimeout(err))
	assert.True(t, mederr.IsEmbedding(err))
	assert.Equal(t, 2, inner.Calls())
}

func TestBounded_DimensionGuard(t *testing.T) {
	inner := &fakeEmbedder{dims: 4}
	b := newBounded(t, inner, provider.BoundedConfig{Dimensions: 3})

	_, err := b.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, mederr.HasCode(err, mederr.CodeEmbeddingDimensionMismatch))
	assert.True(t, mederr.IsEmbedding(err))
	assert.Equal(t, 1, inner.Calls(), "dimension mismatch is not retried")
}

func TestBounded_WrongVectorCount(t *testing.T) {
	short := func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0}}, nil
	}
	inner := &fakeEmbedder{dims: 3, results: []func(context.Context, []string) ([][]float32, error){short}}
	b := newBounded(t, inner, provider.BoundedConfig{})

	_, err := b.EmbedMany(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, mederr.IsEmbedding(err))
}

func TestBounded_NoAttemptAfterCancel(t *testing.T) {
	inner := &fakeEmbedder{dims: 3}
	b := newBounded(t, inner, provider.BoundedConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Embed(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, inner.Calls())
}

func TestNewBounded_Validation(t *testing.T) {
	_, err := provider.NewBounded(nil, provider.BoundedConfig{})
	require.Error(t, err)

	_, err = provider.NewBounded(&fakeEmbedder{dims: 0}, provider.BoundedConfig{})
	require.Error(t, err)
	assert.True(t, mederr.IsConfiguration(err))
}
