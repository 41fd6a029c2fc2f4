// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-dev/medrag/internal/authz"
	"github.com/sigil-dev/medrag/internal/rag"
	"github.com/sigil-dev/medrag/internal/server"
	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI document huma derives from the request and response types.
func generateSpec() ([]byte, error) {
	docs := store.NewMemoryStore(store.DefaultVectorDimensions).Documents()
	engine, err := authz.NewPolicyEngine(authz.DefaultPolicy(), docs)
	if err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "building access policy")
	}

	svc, err := server.NewServices(stubRAG{}, docs, engine, nil)
	if err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "bundling services")
	}

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "creating server")
	}
	srv.RegisterServices(svc)

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// stubRAG satisfies server.RAGService; handlers never run during generation.
type stubRAG struct{}

func (stubRAG) SaveDocument(context.Context, *store.Document, string) (*rag.IngestReport, error) {
	return nil, nil
}

func (stubRAG) Regenerate(context.Context, *store.Document) (*rag.IngestReport, error) {
	return nil, nil
}

func (stubRAG) RemoveDocument(context.Context, int64) error { return nil }

func (stubRAG) Answer(context.Context, rag.AnswerRequest) (*rag.Answer, error) { return nil, nil }

func (stubRAG) Search(context.Context, rag.SearchRequest) ([]store.SearchResult, error) {
	return nil, nil
}
