// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

import (
	"context"
	"errors"
	"sort"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sigil-dev/medrag/internal/provider"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// DefaultEmbeddingModel is used when Config.EmbeddingModel is empty.
const DefaultEmbeddingModel = "text-embedding-3-small"

// OpenRouterBaseURL points the adapter at OpenRouter's OpenAI-compatible API.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	// Name is the registry name; defaults to "openai". OpenAI-compatible
	// gateways such as OpenRouter reuse this adapter under their own name.
	Name           string
	EmbeddingModel string
	// Dimensions requests shortened vectors from text-embedding-3 models.
	// Zero keeps the model's native size.
	Dimensions int
}

// Provider implements provider.Embedder and provider.Generator using the
// OpenAI Embeddings and Chat Completions APIs.
type Provider struct {
	client openaisdk.Client
	config Config
}

var (
	_ provider.Embedder  = (*Provider)(nil)
	_ provider.Generator = (*Provider)(nil)
	_ provider.Provider  = (*Provider)(nil)
)

// New creates a new OpenAI provider. Returns an error if the API key is missing.
// SDK retries are disabled; attempts are bounded by provider.Bounded.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIKey == "" {
		return nil, mederr.New(mederr.CodeProviderRequestInvalid,
			cfg.Name+": missing api_key in config", mederr.FieldProvider(cfg.Name))
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openaisdk.NewClient(opts...)
	return &Provider{client: client, config: cfg}, nil
}

func (p *Provider) Name() string { return p.config.Name }

func (p *Provider) Close() error { return nil }

func (p *Provider) Model() string { return p.config.EmbeddingModel }

// nativeDimensions lists the output size of known embedding models.
var nativeDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
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

// EmbedMany sends all texts in one request and reorders the response by
// its index field.
func (p *Provider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	params := openaisdk.EmbeddingNewParams{
		Input:          openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openaisdk.EmbeddingModel(p.config.EmbeddingModel),
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.config.Dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(p.config.Dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, provider.EmbeddingStatusFailure(err, statusOf(err), p.config.Name+": embeddings request failed",
			mederr.FieldProvider(p.config.Name))
	}
	if len(resp.Data) != len(texts) {
		return nil, mederr.New(mederr.CodeEmbeddingUpstreamFailure, p.config.Name+": embeddings response size mismatch",
			mederr.FieldProvider(p.config.Name),
			mederr.Field("want", len(texts)),
			mederr.Field("got", len(resp.Data)),
		)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}

// Generate sends the role prompt and retrieval context as system messages
// followed by the question as the user message.
func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return "", provider.GenerationFailure(err, p.config.Name+": chat completion failed",
			mederr.FieldProvider(p.config.Name))
	}
	if len(resp.Choices) == 0 {
		return "", mederr.New(mederr.CodeGenerationUpstreamFailure, p.config.Name+": chat completion returned no choices",
			mederr.FieldProvider(p.config.Name))
	}
	return resp.Choices[0].Message.Content, nil
}

// buildParams converts a provider.GenerateRequest into ChatCompletionNewParams.
func buildParams(req provider.GenerateRequest) openaisdk.ChatCompletionNewParams {
	var msgs []openaisdk.ChatCompletionMessageParamUnion
	for _, s := range req.SystemMessages() {
		msgs = append(msgs, openaisdk.SystemMessage(s))
	}
	msgs = append(msgs, openaisdk.UserMessage(req.Question))

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	return params
}

// statusOf returns the HTTP status of an API error, or zero.
func statusOf(err error) int {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
