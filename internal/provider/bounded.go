// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"log/slog"
	"time"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/sigil-dev/medrag/pkg/health"
)

// Defaults for BoundedConfig zero values.
const (
	DefaultEmbedTimeout     = 10 * time.Second
	DefaultEmbedMaxAttempts = 3
	DefaultEmbedBackoff     = 500 * time.Millisecond
)

// BoundedConfig limits how long and how often an embedding call may run.
type BoundedConfig struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxAttempts is the total number of tries, never unbounded.
	MaxAttempts int
	// Backoff is multiplied by the attempt number between tries.
	Backoff time.Duration
	// Dimensions overrides the vector length expected from the inner
	// embedder; zero means inner.Dimensions().
	Dimensions int
}

func (c BoundedConfig) withDefaults() BoundedConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultEmbedTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultEmbedMaxAttempts
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	return c
}

// Bounded wraps an Embedder with a per-attempt timeout, a bounded number
// of attempts with linear backoff, and a dimension guard. It satisfies
// Embedder itself.
type Bounded struct {
	inner  Embedder
	cfg    BoundedConfig
	dims   int
	health *HealthTracker
}

var _ Embedder = (*Bounded)(nil)

// NewBounded wraps inner. Zero fields of cfg take the package defaults.
func NewBounded(inner Embedder, cfg BoundedConfig) (*Bounded, error) {
	if inner == nil {
		return nil, mederr.New(mederr.CodeProviderRequestInvalid, "bounded embedder: inner embedder is nil")
	}
	cfg = cfg.withDefaults()

	dims := cfg.Dimensions
	if dims == 0 {
		dims = inner.Dimensions()
	}
	if dims <= 0 {
		return nil, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"bounded embedder: model %q has no known dimension; set it explicitly", inner.Model())
	}

	h, err := NewHealthTracker(DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}
	return &Bounded{inner: inner, cfg: cfg, dims: dims, health: h}, nil
}

func (b *Bounded) Dimensions() int { return b.dims }

func (b *Bounded) Model() string { return b.inner.Model() }

// Metrics reports the wrapped provider's health.
func (b *Bounded) Metrics() health.Metrics { return b.health.Metrics() }

func (b *Bounded) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany retries transient failures up to MaxAttempts. No attempt
// starts once ctx is done. Dimension mismatches and requests the provider
// rejected as invalid are never retried.
func (b *Bounded) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		vecs, err := b.attempt(ctx, texts)
		if err == nil {
			if err := b.checkShape(vecs, len(texts)); err != nil {
				b.health.RecordFailure()
				return nil, err
			}
			b.health.RecordSuccess()
			return vecs, nil
		}

		b.health.RecordFailure()
		lastErr = err
		slog.Warn("embedding attempt failed",
			"model", b.inner.Model(),
			"attempt", attempt,
			"max_attempts", b.cfg.MaxAttempts,
			"error", err,
		)
		if mederr.IsInvalidInput(err) {
			break
		}

		if attempt < b.cfg.MaxAttempts {
			if err := sleep(ctx, b.cfg.Backoff*time.Duration(attempt)); err != nil {
				break
			}
		}
	}

	return nil, EmbeddingFailure(lastErr, "embedding failed",
		mederr.Field("model", b.inner.Model()),
		mederr.Field("texts", len(texts)),
	)
}

func (b *Bounded) attempt(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.inner.EmbedMany(ctx, texts)
}

func (b *Bounded) checkShape(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return mederr.New(mederr.CodeEmbeddingUpstreamFailure, "embedding provider returned wrong number of vectors",
			mederr.Field("model", b.inner.Model()),
			mederr.Field("want", want),
			mederr.Field("got", len(vecs)),
		)
	}
	for i, v := range vecs {
		if len(v) != b.dims {
			return mederr.New(mederr.CodeEmbeddingDimensionMismatch, "embedding has unexpected dimension",
				mederr.Field("model", b.inner.Model()),
				mederr.Field("position", i),
				mederr.Field("want", b.dims),
				mederr.Field("got", len(v)),
			)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
