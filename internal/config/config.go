// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MEDRAG_RAG_CHUNK_SIZE.
const EnvPrefix = "MEDRAG"

// Config is the top-level medrag configuration.
type Config struct {
	Storage    StorageConfig             `mapstructure:"storage"`
	Embedding  EmbeddingConfig           `mapstructure:"embedding"`
	Generation GenerationConfig          `mapstructure:"generation"`
	RAG        RAGConfig                 `mapstructure:"rag"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Authz      AuthzConfig               `mapstructure:"authz"`
	Server     ServerConfig              `mapstructure:"server"`
}

// StorageConfig selects the document and vector store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	// VectorDimensions fixes the embedding length; zero means the
	// embedding model's native size.
	VectorDimensions int `mapstructure:"vector_dimensions"`
}

// EmbeddingConfig selects the embedding provider and bounds its calls.
type EmbeddingConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Concurrency int           `mapstructure:"concurrency"`
}

// GenerationConfig controls answer generation.
type GenerationConfig struct {
	// Model is a "provider/model" reference.
	Model       string        `mapstructure:"model"`
	Failover    []string      `mapstructure:"failover"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
}

// RAGConfig holds the chunking and retrieval tunables.
type RAGConfig struct {
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MaxResults          int     `mapstructure:"max_results"`
	MaxContextTokens    int     `mapstructure:"max_context_tokens"`
}

// ProviderConfig holds credentials and endpoint for a model provider.
// APIKey may be a keyring://service/key reference.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuthzConfig points at the access policy. An empty PolicyFile selects the
// built-in policy.
type AuthzConfig struct {
	PolicyFile string `mapstructure:"policy_file"`
}

// ServerConfig controls the HTTP adapter.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// TrustedProxies lists the CIDRs allowed to assert subject headers.
	// Empty trusts every peer, which suits a loopback listener only.
	TrustedProxies []string        `mapstructure:"trusted_proxies"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	// EnableHSTS sends Strict-Transport-Security; set it behind TLS only.
	EnableHSTS bool `mapstructure:"enable_hsts"`
}

// RateLimitConfig bounds requests per client IP. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// KnownProviders lists the provider names medrag can construct.
var KnownProviders = []string{"openai", "anthropic", "google", "openrouter"}

// embeddingProviders lists providers that expose an embeddings endpoint.
var embeddingProviders = map[string]bool{"openai": true, "google": true, "openrouter": true}

// vendorKeyEnv maps a provider to the vendor's conventional API key
// variable, consulted after MEDRAG_PROVIDERS_<NAME>_API_KEY.
var vendorKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"google":     "GOOGLE_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "medrag.db")
	v.SetDefault("storage.vector_dimensions", 0)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.timeout", 10*time.Second)
	v.SetDefault("embedding.max_attempts", 3)
	v.SetDefault("embedding.backoff", 500*time.Millisecond)
	v.SetDefault("embedding.concurrency", 4)

	v.SetDefault("generation.model", "openai/gpt-4o-mini")
	v.SetDefault("generation.timeout", 60*time.Second)
	v.SetDefault("generation.max_tokens", 1000)
	v.SetDefault("generation.temperature", 0.7)

	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.similarity_threshold", 0.3)
	v.SetDefault("rag.max_results", 5)
	v.SetDefault("rag.max_context_tokens", 8000)

	v.SetDefault("authz.policy_file", "")

	v.SetDefault("server.listen", "127.0.0.1:8003")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.rate_limit.requests_per_second", 0)
	v.SetDefault("server.rate_limit.burst", 0)
	v.SetDefault("server.enable_hsts", false)
}

// SetupEnv enables MEDRAG_ environment overrides and binds provider API
// keys to both the prefixed and the vendor's conventional variable.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, name := range KnownProviders {
		key := "providers." + name + ".api_key"
		prefixed := EnvPrefix + "_PROVIDERS_" + strings.ToUpper(name) + "_API_KEY"
		_ = v.BindEnv(key, prefixed, vendorKeyEnv[name])
		_ = v.BindEnv("providers."+name+".endpoint",
			EnvPrefix+"_PROVIDERS_"+strings.ToUpper(name)+"_ENDPOINT")
	}
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix MEDRAG_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, mederr.Errorf(mederr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, mederr.Errorf(mederr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, mederr.Wrap(errors.Join(errs...), mederr.CodeConfigValidateInvalidValue, "validating config")
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateGeneration()...)
	errs = append(errs, c.validateRAG()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	for i, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
				"config: server.trusted_proxies[%d] must be a CIDR, got %q", i, cidr))
		}
	}

	if rl := c.Server.RateLimit; rl.RequestsPerSecond < 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: server.rate_limit.requests_per_second must not be negative, got %g", rl.RequestsPerSecond))
	} else if rl.RequestsPerSecond > 0 && rl.Burst <= 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: server.rate_limit.burst must be greater than 0 when a rate is set, got %d", rl.Burst))
	}

	if c.Server.Listen == "" {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q",
			portStr,
		))
	} else if port < 1 || port > 65535 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d",
			port,
		))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q",
			c.Storage.Backend,
		))
	}

	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty for the sqlite backend"))
	}

	if c.Storage.VectorDimensions < 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: storage.vector_dimensions must not be negative, got %d",
			c.Storage.VectorDimensions,
		))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	if !embeddingProviders[c.Embedding.Provider] {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: embedding.provider must be one of [openai, google, openrouter], got %q",
			c.Embedding.Provider,
		))
	} else if c.Providers != nil {
		if _, ok := c.Providers[c.Embedding.Provider]; !ok {
			errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
				"config: embedding.provider %q is not configured under providers",
				c.Embedding.Provider,
			))
		}
	}

	if c.Embedding.Timeout <= 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: embedding.timeout must be greater than 0, got %s", c.Embedding.Timeout))
	}
	if c.Embedding.MaxAttempts <= 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: embedding.max_attempts must be greater than 0, got %d", c.Embedding.MaxAttempts))
	}
	if c.Embedding.Backoff < 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: embedding.backoff must not be negative, got %s", c.Embedding.Backoff))
	}
	if c.Embedding.Concurrency <= 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: embedding.concurrency must be greater than 0, got %d", c.Embedding.Concurrency))
	}

	return errs
}

func (c *Config) validateGeneration() []error {
	var errs []error

	refs := append([]string{c.Generation.Model}, c.Generation.Failover...)
	for i, ref := range refs {
		field := "generation.model"
		if i > 0 {
			field = "generation.failover[" + strconv.Itoa(i-1) + "]"
		}

		if ref == "" {
			errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue, "config: %s must not be empty", field))
			continue
		}
		if !strings.Contains(ref, "/") {
			errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
				"config: %s must be in \"provider/model\" format, got %q", field, ref))
			continue
		}
		// A nil map means no providers section was configured, which is
		// valid when keys come from the environment at wire time.
		if c.Providers != nil {
			providerName := providerFromModel(ref)
			if _, ok := c.Providers[providerName]; !ok {
				errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
					"config: %s %q references provider %q which is not configured",
					field, ref, providerName,
				))
			}
		}
	}

	if c.Generation.Timeout <= 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: generation.timeout must be greater than 0, got %s", c.Generation.Timeout))
	}
	if c.Generation.MaxTokens <= 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: generation.max_tokens must be greater than 0, got %d", c.Generation.MaxTokens))
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: generation.temperature must be between 0 and 2, got %g", c.Generation.Temperature))
	}

	return errs
}

func (c *Config) validateRAG() []error {
	var errs []error

	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeChunkConfigInvalid,
			"config: rag.chunk_size must be greater than 0, got %d", c.RAG.ChunkSize))
	}
	if c.RAG.ChunkOverlap < 0 || (c.RAG.ChunkSize > 0 && c.RAG.ChunkOverlap >= c.RAG.ChunkSize) {
		errs = append(errs, mederr.Errorf(mederr.CodeChunkConfigInvalid,
			"config: rag.chunk_overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap))
	}
	if c.RAG.SimilarityThreshold < 0 || c.RAG.SimilarityThreshold > 1 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: rag.similarity_threshold must be between 0 and 1, got %g", c.RAG.SimilarityThreshold))
	}
	if c.RAG.MaxResults <= 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: rag.max_results must be greater than 0, got %d", c.RAG.MaxResults))
	}
	if c.RAG.MaxContextTokens <= 0 {
		errs = append(errs, mederr.Errorf(mederr.CodeConfigValidateInvalidValue,
			"config: rag.max_context_tokens must be greater than 0, got %d", c.RAG.MaxContextTokens))
	}

	return errs
}

// providerFromModel extracts the provider prefix from a "provider/model" string.
func providerFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}
