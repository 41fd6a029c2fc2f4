// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
)

// Embedder turns text into fixed-length vectors. Implementations are pure
// adapters over a remote model and keep no state between calls.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedMany returns one vector per input, in input order.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the vector length the configured model produces.
	Dimensions() int
	Model() string
}

// Generator produces answer text from role instructions, retrieved context
// and the user's question.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Provider is the identity every vendor adapter exposes to the registry.
type Provider interface {
	Name() string
	Close() error
}

// GenerateRequest carries one generation call.
type GenerateRequest struct {
	// SystemPrompt is the role-scoped instruction.
	SystemPrompt string
	// Context is the assembled retrieval context; empty when nothing matched.
	Context  string
	Question string
	// Model is a bare model ID for vendor adapters and a "provider/model"
	// reference when routed through a Registry.
	Model       string
	MaxTokens   int
	Temperature float64
}

// ContextInstruction is the second system message sent when retrieval
// produced context.
func ContextInstruction(context string) string {
	return "Use the following context to answer the user's question:\n\n" + context
}

// SystemMessages returns the system instructions for req in send order.
func (r GenerateRequest) SystemMessages() []string {
	msgs := make([]string, 0, 2)
	if r.SystemPrompt != "" {
		msgs = append(msgs, r.SystemPrompt)
	}
	if r.Context != "" {
		msgs = append(msgs, ContextInstruction(r.Context))
	}
	return msgs
}
