// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag

import (
	"time"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// Config tunes the retrieval pipeline.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// SimilarityThreshold is exclusive: only hits scoring above it are used.
	SimilarityThreshold float64
	MaxResults          int
	MaxContextTokens    int
	// EmbedConcurrency caps in-flight embedding calls per document.
	EmbedConcurrency  int
	GenerationTimeout time.Duration
	Generation        GenerationOptions
}

// GenerationOptions are passed through to the Generator.
type GenerationOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:           1000,
		ChunkOverlap:        200,
		SimilarityThreshold: 0.3,
		MaxResults:          5,
		MaxContextTokens:    8000,
		EmbedConcurrency:    4,
		GenerationTimeout:   60 * time.Second,
		Generation: GenerationOptions{
			MaxTokens:   1000,
			Temperature: 0.7,
		},
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if _, err := NewChunker(c.ChunkSize, c.ChunkOverlap); err != nil {
		return err
	}
	switch {
	case c.MaxResults <= 0:
		return mederr.Errorf(mederr.CodeConfigValidateInvalidValue, "max results must be positive, got %d", c.MaxResults)
	case c.MaxContextTokens <= 0:
		return mederr.Errorf(mederr.CodeConfigValidateInvalidValue, "max context tokens must be positive, got %d", c.MaxContextTokens)
	case c.EmbedConcurrency <= 0:
		return mederr.Errorf(mederr.CodeConfigValidateInvalidValue, "embed concurrency must be positive, got %d", c.EmbedConcurrency)
	case c.GenerationTimeout <= 0:
		return mederr.Errorf(mederr.CodeConfigValidateInvalidValue, "generation timeout must be positive, got %s", c.GenerationTimeout)
	}
	return nil
}
