// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package rag is the retrieval pipeline: documents are normalized,
// chunked, embedded and stored; questions are embedded, matched against
// the documents the caller may read, and answered from the assembled
// context.
package rag

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/medrag/internal/authz"
	"github.com/sigil-dev/medrag/internal/provider"
	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// Deps are the collaborators a Service drives.
type Deps struct {
	Embedder   provider.Embedder
	Embeddings store.EmbeddingStore
	Documents  store.DocumentStore
	Generator  provider.Generator
	// Authorizer is wrapped in authz.FailClosed.
	Authorizer authz.Authorizer
	// Prompts defaults to DefaultPrompts.
	Prompts Prompts
	// Roles canonicalizes role names before prompt lookup. Optional.
	Roles RoleResolver
}

// Service implements ingestion and question answering. It holds no state
// between calls beyond the per-document write locks.
type Service struct {
	cfg        Config
	chunker    Chunker
	embedder   provider.Embedder
	embeddings store.EmbeddingStore
	documents  store.DocumentStore
	generator  provider.Generator
	authorizer authz.Authorizer
	prompts    Prompts
	roles      RoleResolver
	locks      *documentLocks
}

// NewService validates cfg and deps.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chunker, _ := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)

	switch {
	case deps.Embedder == nil:
		return nil, mederr.New(mederr.CodeRAGRequestInvalid, "rag: embedder is required")
	case deps.Embeddings == nil:
		return nil, mederr.New(mederr.CodeRAGRequestInvalid, "rag: embedding store is required")
	case deps.Documents == nil:
		return nil, mederr.New(mederr.CodeRAGRequestInvalid, "rag: document store is required")
	case deps.Generator == nil:
		return nil, mederr.New(mederr.CodeRAGRequestInvalid, "rag: generator is required")
	}

	if d := deps.Embedder.Dimensions(); d != 0 && d != deps.Embeddings.Dimensions() {
		return nil, mederr.New(mederr.CodeStoreDimensionMismatch, "rag: embedder and store dimensions differ",
			mederr.Field("embedder_dimensions", d),
			mederr.Field("store_dimensions", deps.Embeddings.Dimensions()),
		)
	}

	prompts := deps.Prompts
	if len(prompts) == 0 {
		prompts = DefaultPrompts()
	}

	return &Service{
		cfg:        cfg,
		chunker:    chunker,
		embedder:   deps.Embedder,
		embeddings: deps.Embeddings,
		documents:  deps.Documents,
		generator:  deps.Generator,
		authorizer: authz.NewFailClosed(deps.Authorizer),
		prompts:    prompts,
		roles:      deps.Roles,
		locks:      newDocumentLocks(),
	}, nil
}

// IngestReport describes one ingestion or regeneration pass.
type IngestReport struct {
	RunID      string        `json:"run_id"`
	DocumentID int64         `json:"document_id"`
	Chunks     int           `json:"chunks"`
	Embedded   int           `json:"embedded"`
	Failed     []int         `json:"failed_chunks,omitempty"`
	Replaced   bool          `json:"replaced"`
	Duration   time.Duration `json:"duration"`
}

type commitFunc func(ctx context.Context, documentID int64, chunks []store.ChunkInput) error

// Ingest normalizes, chunks and embeds rawText for a persisted document
// and stores the result in one commit. If any chunk fails to embed nothing
// is stored and the error lists the failed chunk indices. Empty text
// succeeds with zero chunks.
func (s *Service) Ingest(ctx context.Context, doc *store.Document, rawText string) (*IngestReport, error) {
	if err := checkDocument(doc); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(doc.ID)
	defer unlock()

	return s.run(ctx, doc.ID, rawText, false)
}

// Regenerate rebuilds the embedding set from doc.Content and swaps it in
// atomically. On failure the previous set is left untouched.
func (s *Service) Regenerate(ctx context.Context, doc *store.Document) (*IngestReport, error) {
	if err := checkDocument(doc); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(doc.ID)
	defer unlock()

	return s.run(ctx, doc.ID, doc.Content, true)
}

// Delete removes every embedding of a document.
func (s *Service) Delete(ctx context.Context, documentID int64) error {
	unlock := s.locks.lock(documentID)
	defer unlock()

	if err := s.embeddings.DeleteChunks(ctx, documentID); err != nil {
		return err
	}
	slog.Info("embeddings deleted", "document_id", documentID)
	return nil
}

// SaveDocument normalizes rawText into doc.Content, persists doc and
// embeds it. New documents (ID zero) are ingested; existing ones are
// regenerated. The document is kept even when embedding fails, in which
// case it has no embeddings (new) or its previous set (existing).
func (s *Service) SaveDocument(ctx context.Context, doc *store.Document, rawText string) (*IngestReport, error) {
	if doc == nil {
		return nil, mederr.New(mederr.CodeRAGRequestInvalid, "rag: document is required")
	}
	doc.Content = Normalize(rawText)

	if doc.ID == 0 {
		if err := s.documents.Put(ctx, doc); err != nil {
			return nil, err
		}
		unlock := s.locks.lock(doc.ID)
		defer unlock()
		return s.run(ctx, doc.ID, doc.Content, false)
	}

	unlock := s.locks.lock(doc.ID)
	defer unlock()
	if err := s.documents.Put(ctx, doc); err != nil {
		return nil, err
	}
	return s.run(ctx, doc.ID, doc.Content, true)
}

// RemoveDocument deletes the document; its embeddings go with it.
func (s *Service) RemoveDocument(ctx context.Context, documentID int64) error {
	unlock := s.locks.lock(documentID)
	defer unlock()

	if err := s.documents.Delete(ctx, documentID); err != nil {
		return err
	}
	slog.Info("document deleted", "document_id", documentID)
	return nil
}

func checkDocument(doc *store.Document) error {
	if doc == nil || doc.ID <= 0 {
		return mederr.New(mederr.CodeRAGRequestInvalid, "rag: document must be persisted before ingestion")
	}
	return nil
}

// run executes normalize, chunk, embed and commit. The caller holds the
// document lock.
func (s *Service) run(ctx context.Context, documentID int64, rawText string, replace bool) (*IngestReport, error) {
	start := time.Now()
	report := &IngestReport{
		RunID:      uuid.New().String(),
		DocumentID: documentID,
		Replaced:   replace,
	}

	chunks := s.chunker.Split(Normalize(rawText))
	report.Chunks = len(chunks)

	commit := commitFunc(s.embeddings.StoreChunks)
	if replace {
		commit = s.embeddings.ReplaceChunks
	}

	if len(chunks) == 0 && !replace {
		report.Duration = time.Since(start)
		slog.Info("ingest skipped empty document", "run_id", report.RunID, "document_id", documentID)
		return report, nil
	}

	inputs, failed, err := s.embedChunks(ctx, report.RunID, documentID, chunks)
	report.Embedded = len(chunks) - len(failed)
	report.Failed = failed
	if err != nil {
		report.Duration = time.Since(start)
		return report, err
	}

	if err := commit(ctx, documentID, inputs); err != nil {
		report.Duration = time.Since(start)
		slog.Error("embedding commit failed",
			"run_id", report.RunID,
			"document_id", documentID,
			"error", err,
		)
		return report, mederr.With(err, mederr.Field("run_id", report.RunID))
	}

	report.Duration = time.Since(start)
	slog.Info("ingest completed",
		"run_id", report.RunID,
		"document_id", documentID,
		"chunks", report.Chunks,
		"replaced", replace,
		"duration", report.Duration,
	)
	return report, nil
}

// embedChunks embeds chunks concurrently, at most EmbedConcurrency at a
// time. It waits for every started call. Once ctx is done no new call is
// started. Any failure fails the whole pass.
func (s *Service) embedChunks(ctx context.Context, runID string, documentID int64, chunks []string) ([]store.ChunkInput, []int, error) {
	inputs := make([]store.ChunkInput, len(chunks))
	errs := make([]error, len(chunks))

	var g errgroup.Group
	g.SetLimit(s.cfg.EmbedConcurrency)
	for i, text := range chunks {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			vec, err := s.embedder.Embed(ctx, text)
			if err != nil {
				errs[i] = err
				slog.Warn("chunk embedding failed",
					"run_id", runID,
					"document_id", documentID,
					"chunk_index", i,
					"error", err,
				)
				return nil
			}
			inputs[i] = store.ChunkInput{Index: i, Text: text, Vector: vec}
			return nil
		})
	}
	_ = g.Wait()

	var failed []int
	var first error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, i)
			if first == nil {
				first = err
			}
		}
	}
	if len(failed) == 0 {
		return inputs, nil, nil
	}

	fields := []mederr.Attr{
		mederr.FieldDocumentID(documentID),
		mederr.Field("run_id", runID),
		mederr.Field("failed_chunks", failed),
		mederr.Field("total_chunks", len(chunks)),
	}
	if cerr := ctx.Err(); cerr != nil {
		fields = append(fields, mederr.Field("canceled", true))
	}
	slog.Error("ingest aborted, nothing committed",
		"run_id", runID,
		"document_id", documentID,
		"failed_chunks", failed,
	)
	return nil, failed, mederr.Wrap(first, mederr.CodeIngestEmbeddingFailure,
		"embedding failed for one or more chunks", fields...)
}

// AnswerRequest is a question asked on behalf of a subject.
type AnswerRequest struct {
	Question string
	Subject  authz.Subject
	// Role selects the system instruction; empty uses Subject.Role.
	Role string
	// MaxResults overrides Config.MaxResults when positive.
	MaxResults int
	// PatientID and Department narrow the documents searched.
	PatientID  *int64
	Department string
}

// Answer is the generated reply and the hits it was grounded on.
type Answer struct {
	Text        string               `json:"response"`
	Sources     []store.SearchResult `json:"sources"`
	ContextUsed bool                 `json:"context_used"`
	TokenCount  int                  `json:"token_count"`
}

// Answer retrieves context the subject may read and asks the generator.
// Authorization failures are returned. Retrieval failures degrade to an
// answer without context, and generation failures degrade to
// GenerationApology.
func (s *Service) Answer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, mederr.New(mederr.CodeRAGRequestInvalid, "rag: question is required")
	}

	allowed, err := s.allowedDocuments(ctx, req.Subject, store.DocumentFilter{
		PatientID:  req.PatientID,
		Department: req.Department,
	})
	if err != nil {
		return nil, err
	}

	sources := []store.SearchResult{}
	if len(allowed) > 0 {
		limit := req.MaxResults
		if limit <= 0 {
			limit = s.cfg.MaxResults
		}
		hits, err := s.retrieve(ctx, question, allowed, limit)
		if err != nil {
			slog.Warn("retrieval failed, answering without context",
				"subject_id", req.Subject.ID,
				"error", err,
			)
		} else {
			sources = hits
		}
	}

	contextText := Assemble(sources, s.cfg.MaxContextTokens)

	role := req.Role
	if role == "" {
		role = req.Subject.Role
	}
	if s.roles != nil {
		if canonical, ok := s.roles.Role(role); ok {
			role = canonical
		}
	}
	genReq := provider.GenerateRequest{
		SystemPrompt: s.prompts.For(role),
		Context:      contextText,
		Question:     question,
		Model:        s.cfg.Generation.Model,
		MaxTokens:    s.cfg.Generation.MaxTokens,
		Temperature:  s.cfg.Generation.Temperature,
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	text, err := s.generator.Generate(genCtx, genReq)
	if err != nil {
		slog.Error("generation failed, returning apology",
			"subject_id", req.Subject.ID,
			"role", string(ResolveRole(role)),
			"error", err,
		)
		text = GenerationApology
	} else if contextText == "" {
		text += NoContextDisclaimer
	}

	return &Answer{
		Text:        text,
		Sources:     sources,
		ContextUsed: contextText != "",
		TokenCount:  EstimateTokens(text),
	}, nil
}

// SearchRequest is an authorized semantic search.
type SearchRequest struct {
	Query         string
	Subject       authz.Subject
	DocumentTypes []string
	Department    string
	// Limit overrides Config.MaxResults when positive.
	Limit int
}

// Search returns the ranked chunks matching Query among the documents the
// subject may read. Unlike Answer, embedding and store failures are
// returned.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]store.SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, mederr.New(mederr.CodeRAGRequestInvalid, "rag: query is required")
	}

	allowed, err := s.allowedDocuments(ctx, req.Subject, store.DocumentFilter{
		Types:      req.DocumentTypes,
		Department: req.Department,
	})
	if err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return []store.SearchResult{}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.MaxResults
	}
	return s.retrieve(ctx, query, allowed, limit)
}

// ListRequest pages through the documents a subject may read.
type ListRequest struct {
	Subject       authz.Subject
	DocumentTypes []string
	Department    string
	Limit         int
	Offset        int
}

// ListDocuments returns the readable documents matching the request's
// filters, ordered by ID. A subject with nothing readable gets an empty
// list rather than an error.
func (s *Service) ListDocuments(ctx context.Context, req ListRequest) ([]*store.Document, error) {
	return authz.ListReadable(ctx, s.authorizer, s.documents, req.Subject, store.DocumentFilter{
		Types:      req.DocumentTypes,
		Department: req.Department,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
}

func (s *Service) retrieve(ctx context.Context, text string, allowed []int64, limit int) ([]store.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.embeddings.Search(ctx, store.SearchQuery{
		Vector:             vec,
		AllowedDocumentIDs: allowed,
		Threshold:          s.cfg.SimilarityThreshold,
		Limit:              limit,
	})
}

// allowedDocuments asks the authorizer for readable documents and narrows
// them by filter through the document store.
func (s *Service) allowedDocuments(ctx context.Context, subject authz.Subject, filter store.DocumentFilter) ([]int64, error) {
	ids, err := s.authorizer.FilterAllowed(ctx, subject, authz.ActionRead, authz.ResourceDocument)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []int64{}, nil
	}
	if filter.PatientID == nil && filter.Department == "" && len(filter.Types) == 0 {
		return ids, nil
	}

	filter.IDs = ids
	filter.SkipContent = true
	docs, err := s.documents.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	narrowed := make([]int64, 0, len(docs))
	for _, d := range docs {
		narrowed = append(narrowed, d.ID)
	}
	slices.Sort(narrowed)
	return narrowed, nil
}
