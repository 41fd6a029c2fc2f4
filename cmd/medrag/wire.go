// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/sigil-dev/medrag/internal/authz"
	"github.com/sigil-dev/medrag/internal/config"
	"github.com/sigil-dev/medrag/internal/provider"
	anthropicprov "github.com/sigil-dev/medrag/internal/provider/anthropic"
	googleprov "github.com/sigil-dev/medrag/internal/provider/google"
	openaiprov "github.com/sigil-dev/medrag/internal/provider/openai"
	"github.com/sigil-dev/medrag/internal/rag"
	"github.com/sigil-dev/medrag/internal/secrets"
	"github.com/sigil-dev/medrag/internal/server"
	"github.com/sigil-dev/medrag/internal/store"
	_ "github.com/sigil-dev/medrag/internal/store/sqlite" // register sqlite backend
	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/sigil-dev/medrag/pkg/health"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Config     *config.Config
	Stores     *store.Stores
	Embedder   *provider.Bounded
	Registry   *provider.Registry
	Authorizer authz.Authorizer
	RAG        *rag.Service
}

// WireApp resolves provider keys, opens the stores and builds the
// retrieval service. secretStore may be nil when no keyring references
// are configured.
func WireApp(cfg *config.Config, secretStore secrets.Store) (*App, error) {
	providers := cfg.Providers
	if secretStore != nil {
		providers = secrets.ResolveProviderKeys(cfg.Providers, secretStore)
	}

	// 1. Embedder; its dimension fixes the vector table.
	embedder, err := newEmbedder(cfg, providers)
	if err != nil {
		return nil, err
	}

	// 2. Stores.
	stores, err := store.Open(&store.StorageConfig{
		Backend:          cfg.Storage.Backend,
		Path:             cfg.Storage.Path,
		VectorDimensions: embedder.Dimensions(),
	})
	if err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "opening %s store", cfg.Storage.Backend)
	}

	// 3. Generators, routed by "provider/model" with failover.
	reg := provider.NewRegistry()
	registerGenerators(providers, reg)
	if err := reg.SetDefault(cfg.Generation.Model); err != nil {
		slog.Warn("default generation model unavailable; answers will degrade",
			"model", cfg.Generation.Model,
			"error", err,
		)
	}
	if len(cfg.Generation.Failover) > 0 {
		if err := reg.SetFailover(cfg.Generation.Failover); err != nil {
			slog.Warn("generation failover chain unavailable", "error", err)
		}
	}

	// 4. Access policy.
	policy := authz.DefaultPolicy()
	if cfg.Authz.PolicyFile != "" {
		if policy, err = authz.LoadPolicy(cfg.Authz.PolicyFile); err != nil {
			_ = stores.Close()
			_ = reg.Close()
			return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "loading access policy")
		}
	}
	engine, err := authz.NewPolicyEngine(policy, stores.Documents)
	if err != nil {
		_ = stores.Close()
		_ = reg.Close()
		return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "building access policy")
	}

	// 5. Retrieval service.
	svc, err := rag.NewService(ragConfig(cfg), rag.Deps{
		Embedder:   embedder,
		Embeddings: stores.Embeddings,
		Documents:  stores.Documents,
		Generator:  reg,
		Authorizer: engine,
		Roles:      engine,
	})
	if err != nil {
		_ = stores.Close()
		_ = reg.Close()
		return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "creating retrieval service")
	}

	return &App{
		Config:     cfg,
		Stores:     stores,
		Embedder:   embedder,
		Registry:   reg,
		Authorizer: engine,
		RAG:        svc,
	}, nil
}

// Services bundles the HTTP route dependencies.
func (a *App) Services() (*server.Services, error) {
	return server.NewServices(a.RAG, a.Stores.Documents, a.Authorizer, a.Health)
}

// Health merges generator health with the embedder's.
func (a *App) Health() health.Report {
	providers := a.Registry.Health()
	providers["embedding/"+a.Config.Embedding.Provider] = a.Embedder.Metrics()
	return health.NewReport(providers)
}

// Close releases all resources held by the app.
func (a *App) Close() error {
	var errs []error
	if a.Registry != nil {
		errs = append(errs, a.Registry.Close())
	}
	if a.Stores != nil {
		errs = append(errs, a.Stores.Close())
	}
	return errors.Join(errs...)
}

func ragConfig(cfg *config.Config) rag.Config {
	rc := rag.DefaultConfig()
	rc.ChunkSize = cfg.RAG.ChunkSize
	rc.ChunkOverlap = cfg.RAG.ChunkOverlap
	rc.SimilarityThreshold = cfg.RAG.SimilarityThreshold
	rc.MaxResults = cfg.RAG.MaxResults
	rc.MaxContextTokens = cfg.RAG.MaxContextTokens
	if cfg.Embedding.Concurrency > 0 {
		rc.EmbedConcurrency = cfg.Embedding.Concurrency
	}
	if cfg.Generation.Timeout > 0 {
		rc.GenerationTimeout = cfg.Generation.Timeout
	}
	rc.Generation = rag.GenerationOptions{
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
	}
	return rc
}

// embedderFactory builds a raw embedder for one vendor.
type embedderFactory func(pc config.ProviderConfig, model string, dims int) (provider.Embedder, error)

// embedderFactories maps embedding provider names to their constructors.
// Declared as a variable so tests can inject fakes.
var embedderFactories = map[string]embedderFactory{
	"openai": func(pc config.ProviderConfig, model string, dims int) (provider.Embedder, error) {
		return openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint, EmbeddingModel: model, Dimensions: dims})
	},
	"openrouter": func(pc config.ProviderConfig, model string, dims int) (provider.Embedder, error) {
		return openaiprov.New(openaiprov.Config{
			Name: "openrouter", APIKey: pc.APIKey, BaseURL: endpointOr(pc.Endpoint, openaiprov.OpenRouterBaseURL),
			EmbeddingModel: model, Dimensions: dims,
		})
	},
	"google": func(pc config.ProviderConfig, model string, dims int) (provider.Embedder, error) {
		return googleprov.New(googleprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint, EmbeddingModel: model, Dimensions: dims})
	},
}

func newEmbedder(cfg *config.Config, providers map[string]config.ProviderConfig) (*provider.Bounded, error) {
	name := cfg.Embedding.Provider
	factory, ok := embedderFactories[name]
	if !ok {
		return nil, mederr.Errorf(mederr.CodeCLISetupFailure, "unsupported embedding provider %q", name)
	}
	inner, err := factory(providers[name], cfg.Embedding.Model, cfg.Storage.VectorDimensions)
	if err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "creating %s embedder", name)
	}
	if want, got := cfg.Storage.VectorDimensions, inner.Dimensions(); want > 0 && got > 0 && want != got {
		return nil, mederr.Errorf(mederr.CodeEmbeddingDimensionMismatch,
			"%s embedder produces %d-dimensional vectors but storage.vector_dimensions is %d", name, got, want)
	}

	bounded, err := provider.NewBounded(inner, provider.BoundedConfig{
		Timeout:     cfg.Embedding.Timeout,
		MaxAttempts: cfg.Embedding.MaxAttempts,
		Backoff:     cfg.Embedding.Backoff,
		Dimensions:  cfg.Storage.VectorDimensions,
	})
	if err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "bounding %s embedder", name)
	}
	return bounded, nil
}

// generatorFactory builds a generator from a ProviderConfig.
type generatorFactory func(config.ProviderConfig) (provider.Generator, error)

// generatorFactories maps provider names to their constructors.
// Declared as a variable so tests can inject failing factories.
var generatorFactories = map[string]generatorFactory{
	"anthropic": func(pc config.ProviderConfig) (provider.Generator, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"google": func(pc config.ProviderConfig) (provider.Generator, error) {
		return googleprov.New(googleprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"openai": func(pc config.ProviderConfig) (provider.Generator, error) {
		return openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"openrouter": func(pc config.ProviderConfig) (provider.Generator, error) {
		return openaiprov.New(openaiprov.Config{
			Name: "openrouter", APIKey: pc.APIKey, BaseURL: endpointOr(pc.Endpoint, openaiprov.OpenRouterBaseURL),
		})
	},
}

// registerGenerators registers every configured provider with a built-in
// implementation. Unknown names or empty API keys are logged and skipped;
// neither is fatal at startup.
func registerGenerators(providers map[string]config.ProviderConfig, reg *provider.Registry) {
	for _, name := range slices.Sorted(maps.Keys(providers)) {
		pc := providers[name]
		if pc.APIKey == "" {
			slog.Debug("skipping provider with empty API key", "provider", name)
			continue
		}
		factory, ok := generatorFactories[name]
		if !ok {
			slog.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		g, err := factory(pc)
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		if err := reg.Register(name, g); err != nil {
			slog.Warn("failed to register provider", "provider", name, "error", err)
			continue
		}
		slog.Info("registered provider", "provider", name)
	}
}

func endpointOr(endpoint, fallback string) string {
	if endpoint != "" {
		return endpoint
	}
	return fallback
}

// serverConfig maps the server section onto server.Config.
func serverConfig(cfg config.ServerConfig) server.Config {
	return server.Config{
		ListenAddr:     cfg.Listen,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
		EnableHSTS:     cfg.EnableHSTS,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
	}
}
