// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"

	"github.com/sigil-dev/medrag/internal/authz"
	"github.com/sigil-dev/medrag/internal/rag"
	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/sigil-dev/medrag/pkg/health"
)

// RAGService is the slice of rag.Service the routes drive.
type RAGService interface {
	SaveDocument(ctx context.Context, doc *store.Document, rawText string) (*rag.IngestReport, error)
	Regenerate(ctx context.Context, doc *store.Document) (*rag.IngestReport, error)
	RemoveDocument(ctx context.Context, documentID int64) error
	Answer(ctx context.Context, req rag.AnswerRequest) (*rag.Answer, error)
	Search(ctx context.Context, req rag.SearchRequest) ([]store.SearchResult, error)
}

var _ RAGService = (*rag.Service)(nil)

// HealthFunc reports provider health for GET /health.
type HealthFunc func() health.Report

// Services holds dependencies injected into route handlers.
// Use NewServices to ensure all required services are provided.
type Services struct {
	rag        RAGService
	documents  store.DocumentStore
	authorizer authz.Authorizer
	health     HealthFunc // optional
}

// NewServices validates and bundles the route dependencies. The
// authorizer is wrapped so that its failures deny.
func NewServices(r RAGService, docs store.DocumentStore, az authz.Authorizer, hf HealthFunc) (*Services, error) {
	if r == nil {
		return nil, mederr.New(mederr.CodeServerConfigInvalid, "rag service is required")
	}
	if docs == nil {
		return nil, mederr.New(mederr.CodeServerConfigInvalid, "document store is required")
	}
	if az == nil {
		return nil, mederr.New(mederr.CodeServerConfigInvalid, "authorizer is required")
	}
	return &Services{
		rag:        r,
		documents:  docs,
		authorizer: authz.NewFailClosed(az),
		health:     hf,
	}, nil
}
