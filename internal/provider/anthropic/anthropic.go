// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic

import (
	"context"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sigil-dev/medrag/internal/provider"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// defaultMaxTokens is sent when the request leaves MaxTokens unset; the
// Messages API requires the field.
const defaultMaxTokens = 4096

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Provider implements provider.Generator using the Anthropic Messages API.
// Anthropic has no embeddings endpoint, so it never serves as an Embedder.
type Provider struct {
	client anthropicsdk.Client
	config Config
}

var (
	_ provider.Generator = (*Provider)(nil)
	_ provider.Provider  = (*Provider)(nil)
)

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, mederr.New(mederr.CodeProviderRequestInvalid,
			"anthropic: missing api_key in config", mederr.FieldProvider("anthropic"))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropicsdk.NewClient(opts...)
	return &Provider{client: client, config: cfg}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Close() error { return nil }

// Generate sends the role prompt and context as system blocks and returns
// the concatenated text blocks of the reply.
func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	msg, err := p.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		return "", provider.GenerationFailure(err, "anthropic: messages request failed",
			mederr.FieldProvider("anthropic"))
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", mederr.New(mederr.CodeGenerationUpstreamFailure, "anthropic: reply contained no text",
			mederr.FieldProvider("anthropic"),
			mederr.Field("stop_reason", string(msg.StopReason)),
		)
	}
	return b.String(), nil
}

// buildParams converts a provider.GenerateRequest into MessageNewParams.
func buildParams(req provider.GenerateRequest) anthropicsdk.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		MaxTokens: maxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Question)),
		},
	}

	for _, s := range req.SystemMessages() {
		params.System = append(params.System, anthropicsdk.TextBlockParam{Text: s})
	}

	if req.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}
	return params
}
