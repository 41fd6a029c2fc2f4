// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/sigil-dev/medrag/internal/provider"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// DefaultEmbeddingModel is used when Config.EmbeddingModel is empty.
const DefaultEmbeddingModel = "text-embedding-004"

// Config holds Google provider configuration.
type Config struct {
	APIKey         string
	BaseURL        string // optional, useful for testing against a mock server
	EmbeddingModel string
	// Dimensions sets OutputDimensionality. Zero keeps the model's native size.
	Dimensions int
}

// Provider implements provider.Embedder and provider.Generator using the
// Google Gemini API.
type Provider struct {
	client *genai.Client
	config Config
}

var (
	_ provider.Embedder  = (*Provider)(nil)
	_ provider.Generator = (*Provider)(nil)
	_ provider.Provider  = (*Provider)(nil)
)

// New creates a new Google provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, mederr.New(mederr.CodeProviderRequestInvalid, "google: missing api_key in config", mederr.FieldProvider("google"))
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeProviderRequestInvalid, "google: creating client")
	}

	return &Provider{client: client, config: cfg}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) Close() error { return nil }

func (p *Provider) Model() string { return p.config.EmbeddingModel }

var nativeDimensions = map[string]int{
	"text-embedding-004":   768,
	"gemini-embedding-001": 3072,
}

// Dimensions returns the configured size, else the model's native size,
// else zero for unknown models.
func (p *Provider) Dimensions() int {
	if p.config.Dimensions > 0 {
		return p.config.Dimensions
	}
	return nativeDimensions[p.config.EmbeddingModel]
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds all texts in one batch call. Gemini returns embeddings
// in request order.
func (p *Provider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var cfg *genai.EmbedContentConfig
	if p.config.Dimensions > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(p.config.Dimensions))}
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.config.EmbeddingModel, contents, cfg)
	if err != nil {
		return nil, provider.EmbeddingStatusFailure(err, statusOf(err), "google: embed content failed",
			mederr.FieldProvider("google"))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, mederr.New(mederr.CodeEmbeddingUpstreamFailure, "google: embeddings response size mismatch",
			mederr.FieldProvider("google"),
			mederr.Field("want", len(texts)),
			mederr.Field("got", len(resp.Embeddings)),
		)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, mederr.New(mederr.CodeEmbeddingUpstreamFailure, "google: empty embedding in response",
				mederr.FieldProvider("google"), mederr.Field("index", i))
		}
		out[i] = e.Values
	}
	return out, nil
}

// Generate sends the role prompt and context as the system instruction and
// the question as the only user turn.
func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Question, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, buildConfig(req))
	if err != nil {
		return "", provider.GenerationFailure(err, "google: generate content failed", mederr.FieldProvider("google"))
	}

	text := resp.Text()
	if text == "" {
		return "", mederr.New(mederr.CodeGenerationUpstreamFailure, "google: response contained no text",
			mederr.FieldProvider("google"))
	}
	return text, nil
}

// buildConfig converts a provider.GenerateRequest into GenerateContentConfig.
func buildConfig(req provider.GenerateRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if msgs := req.SystemMessages(); len(msgs) > 0 {
		parts := make([]*genai.Part, 0, len(msgs))
		for _, s := range msgs {
			parts = append(parts, &genai.Part{Text: s})
		}
		cfg.SystemInstruction = &genai.Content{Parts: parts}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	return cfg
}

// statusOf returns the HTTP status carried by a Gemini API error, or zero.
func statusOf(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
