// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/medrag/internal/config"
	"github.com/sigil-dev/medrag/internal/provider"
	"github.com/sigil-dev/medrag/internal/secrets"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// keywordEmbedder maps text onto keyword counts so similarity is predictable.
type keywordEmbedder struct {
	fail atomic.Bool
}

var embedKeywords = []string{"cardiac", "renal", "insulin"}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail.Load() {
		return nil, mederr.New(mederr.CodeEmbeddingUpstreamFailure, "embedding service down")
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(embedKeywords)+1)
	for i, kw := range embedKeywords {
		vec[i] = float32(strings.Count(lower, kw))
	}
	vec[len(embedKeywords)] = 0.01
	return vec, nil
}

func (e *keywordEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *keywordEmbedder) Dimensions() int { return len(embedKeywords) + 1 }
func (e *keywordEmbedder) Model() string   { return "keyword-test" }

// echoGenerator answers with the question and how much context it saw.
type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, req provider.GenerateRequest) (string, error) {
	if req.Context == "" {
		return "no context for: " + req.Question, nil
	}
	return "answer for: " + req.Question, nil
}

// useFakeProviders swaps the openai factories for in-process fakes.
func useFakeProviders(t *testing.T) *keywordEmbedder {
	t.Helper()

	emb := &keywordEmbedder{}
	oldEmb := embedderFactories["openai"]
	oldGen := generatorFactories["openai"]
	embedderFactories["openai"] = func(config.ProviderConfig, string, int) (provider.Embedder, error) {
		return emb, nil
	}
	generatorFactories["openai"] = func(config.ProviderConfig) (provider.Generator, error) {
		return echoGenerator{}, nil
	}
	t.Cleanup(func() {
		embedderFactories["openai"] = oldEmb
		generatorFactories["openai"] = oldGen
	})
	return emb
}

// useSecretStore swaps the keyring for an in-memory store.
func useSecretStore(t *testing.T, s secrets.Store) {
	t.Helper()
	old := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return s }
	t.Cleanup(func() { secretStoreFactory = old })
}

// writeTestConfig writes a sqlite-backed config under a temp dir.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "medrag.yaml")
	yaml := `storage:
  backend: sqlite
  path: ` + filepath.Join(dir, "medrag.db") + `
embedding:
  provider: openai
  max_attempts: 1
  backoff: 0s
generation:
  model: openai/test-model
providers:
  openai:
    api_key: test-key
rag:
  chunk_size: 200
  chunk_overlap: 20
` + extra
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

// execute runs the root command with a clean global Viper.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	viper.Reset()
	oldLogger := slog.Default()
	t.Cleanup(func() {
		viper.Reset()
		slog.SetDefault(oldLogger)
	})

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

// mockSecretStore is an in-memory secrets.Store for testing.
type mockSecretStore struct {
	data map[string]string // key -> value; service is always "medrag"
}

func newMockSecretStore(keys ...string) *mockSecretStore {
	m := &mockSecretStore{data: make(map[string]string)}
	for _, k := range keys {
		m.data[k] = "redacted"
	}
	return m
}

func (m *mockSecretStore) Store(_, key, value string) error {
	m.data[key] = value
	return nil
}

func (m *mockSecretStore) Retrieve(_, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", mederr.Errorf(mederr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mockSecretStore) Delete(_, key string) error {
	if _, ok := m.data[key]; !ok {
		return mederr.Errorf(mederr.CodeSecretNotFound, "not found")
	}
	delete(m.data, key)
	return nil
}

func (m *mockSecretStore) List(_ string) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}
