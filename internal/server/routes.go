// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/medrag/internal/authz"
	"github.com/sigil-dev/medrag/internal/rag"
	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/api/v1/documents",
		Summary:     "List readable documents",
		Tags:        []string{"documents"},
	}, s.handleListDocuments)

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/api/v1/documents",
		Summary:       "Create a document and embed it",
		Tags:          []string{"documents"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/api/v1/documents/{id}",
		Summary:     "Get a document",
		Tags:        []string{"documents"},
	}, s.handleGetDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "update-document",
		Method:      http.MethodPut,
		Path:        "/api/v1/documents/{id}",
		Summary:     "Update a document and regenerate its embeddings",
		Tags:        []string{"documents"},
	}, s.handleUpdateDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "regenerate-document",
		Method:      http.MethodPost,
		Path:        "/api/v1/documents/{id}/regenerate",
		Summary:     "Regenerate a document's embeddings",
		Tags:        []string{"documents"},
	}, s.handleRegenerate)

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-document",
		Method:        http.MethodDelete,
		Path:          "/api/v1/documents/{id}",
		Summary:       "Delete a document and its embeddings",
		Tags:          []string{"documents"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodPost,
		Path:        "/api/v1/search",
		Summary:     "Semantic search over readable documents",
		Tags:        []string{"retrieval"},
	}, s.handleSearch)

	huma.Register(s.api, huma.Operation{
		OperationID: "ask",
		Method:      http.MethodPost,
		Path:        "/api/v1/ask",
		Summary:     "Answer a question from readable documents",
		Tags:        []string{"retrieval"},
	}, s.handleAsk)
}

// --- Request/Response types for huma ---

// DocumentFields are the writable document attributes.
type DocumentFields struct {
	Title        string `json:"title" minLength:"1" maxLength:"255" doc:"Document title"`
	Content      string `json:"content" doc:"Raw document text; stored normalized"`
	DocumentType string `json:"document_type" minLength:"1" maxLength:"50" example:"discharge_summary"`
	Department   string `json:"department,omitempty" maxLength:"100"`
	PatientID    *int64 `json:"patient_id,omitempty" minimum:"1"`
	Sensitive    bool   `json:"is_sensitive,omitempty"`
}

func (f DocumentFields) apply(doc *store.Document) {
	doc.Title = f.Title
	doc.DocumentType = f.DocumentType
	doc.Department = f.Department
	doc.PatientID = f.PatientID
	doc.Sensitive = f.Sensitive
}

// DocumentBody is a document as returned by the API.
type DocumentBody struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	DocumentType string    `json:"document_type"`
	Department   string    `json:"department,omitempty"`
	PatientID    *int64    `json:"patient_id,omitempty"`
	Sensitive    bool      `json:"is_sensitive"`
	AuthorID     int64     `json:"author_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newDocumentBody(d *store.Document) DocumentBody {
	return DocumentBody{
		ID:           d.ID,
		Title:        d.Title,
		Content:      d.Content,
		DocumentType: d.DocumentType,
		Department:   d.Department,
		PatientID:    d.PatientID,
		Sensitive:    d.Sensitive,
		AuthorID:     d.AuthorID,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// DocumentWriteBody reports a saved document and its embedding pass. The
// document is kept when embedding fails; EmbeddingError says why.
type DocumentWriteBody struct {
	Document       DocumentBody      `json:"document"`
	Ingest         *rag.IngestReport `json:"ingest,omitempty"`
	EmbeddingError string            `json:"embedding_error,omitempty"`
}

type createDocumentInput struct {
	Body DocumentFields
}

type documentIDInput struct {
	ID int64 `path:"id" minimum:"1"`
}

type updateDocumentInput struct {
	ID   int64 `path:"id" minimum:"1"`
	Body DocumentFields
}

type documentWriteOutput struct {
	Body DocumentWriteBody
}

type getDocumentOutput struct {
	Body DocumentBody
}

type regenerateOutput struct {
	Body *rag.IngestReport
}

type listDocumentsInput struct {
	DocumentType string `query:"document_type" doc:"Only documents of this type"`
	Department   string `query:"department" doc:"Only documents of this department"`
	Skip         int    `query:"skip" default:"0" minimum:"0"`
	Limit        int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
}

type listDocumentsOutput struct {
	Body struct {
		Documents []DocumentBody `json:"documents"`
		Count     int            `json:"count"`
	}
}

type searchInput struct {
	Body struct {
		Query         string   `json:"query" minLength:"1" doc:"Search text"`
		DocumentTypes []string `json:"document_types,omitempty"`
		Department    string   `json:"department,omitempty"`
		Limit         int      `json:"limit,omitempty" minimum:"0" maximum:"100" doc:"Maximum results, default 10"`
		MaxResults    int      `json:"max_results,omitempty" minimum:"0" maximum:"100" doc:"Alias for limit"`
	}
}

type searchOutput struct {
	Body struct {
		Results []store.SearchResult `json:"results"`
		Count   int                  `json:"count"`
	}
}

type askInput struct {
	Body struct {
		Message           string `json:"message" minLength:"1" doc:"The question"`
		ContextPatientID  *int64 `json:"context_patient_id,omitempty" minimum:"1"`
		ContextDepartment string `json:"context_department,omitempty"`
		MaxResults        int    `json:"max_results,omitempty" minimum:"0" maximum:"50"`
	}
}

type askOutput struct {
	Body *rag.Answer
}

// defaultSearchLimit is the /search page size when the request sets none.
const defaultSearchLimit = 10

// --- Handlers ---

func (s *Server) handleListDocuments(ctx context.Context, input *listDocumentsInput) (*listDocumentsOutput, error) {
	subject, err := requireSubject(ctx)
	if err != nil {
		return nil, apiError(ctx, err)
	}

	filter := store.DocumentFilter{
		Department: input.Department,
		Limit:      input.Limit,
		Offset:     input.Skip,
	}
	if input.DocumentType != "" {
		filter.Types = []string{input.DocumentType}
	}
	docs, err := authz.ListReadable(ctx, s.services.authorizer, s.services.documents, subject, filter)
	if err != nil {
		return nil, apiError(ctx, err)
	}

	out := &listDocumentsOutput{}
	out.Body.Documents = make([]DocumentBody, 0, len(docs))
	for _, d := range docs {
		out.Body.Documents = append(out.Body.Documents, newDocumentBody(d))
	}
	out.Body.Count = len(out.Body.Documents)
	return out, nil
}

func (s *Server) handleCreateDocument(ctx context.Context, input *createDocumentInput) (*documentWriteOutput, error) {
	subject, err := s.authorize(ctx, authz.ActionWrite, 0)
	if err != nil {
		return nil, err
	}

	doc := &store.Document{AuthorID: authorID(subject)}
	input.Body.apply(doc)
	if err := doc.Validate(); err != nil {
		return nil, apiError(ctx, err)
	}

	return s.saveDocument(ctx, doc, input.Body.Content)
}

func (s *Server) handleGetDocument(ctx context.Context, input *documentIDInput) (*getDocumentOutput, error) {
	if _, err := s.authorize(ctx, authz.ActionRead, input.ID); err != nil {
		return nil, err
	}

	doc, err := s.services.documents.Get(ctx, input.ID)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	return &getDocumentOutput{Body: newDocumentBody(doc)}, nil
}

func (s *Server) handleUpdateDocument(ctx context.Context, input *updateDocumentInput) (*documentWriteOutput, error) {
	if _, err := s.authorize(ctx, authz.ActionWrite, input.ID); err != nil {
		return nil, err
	}

	doc, err := s.services.documents.Get(ctx, input.ID)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	input.Body.apply(doc)
	if err := doc.Validate(); err != nil {
		return nil, apiError(ctx, err)
	}

	return s.saveDocument(ctx, doc, input.Body.Content)
}

// saveDocument persists doc and reports the embedding pass. A nil report
// means the document itself was not saved, which is the only HTTP error.
func (s *Server) saveDocument(ctx context.Context, doc *store.Document, content string) (*documentWriteOutput, error) {
	report, err := s.services.rag.SaveDocument(ctx, doc, content)
	if err != nil && report == nil {
		return nil, apiError(ctx, err)
	}

	out := &documentWriteOutput{}
	out.Body.Document = newDocumentBody(doc)
	out.Body.Ingest = report
	if err != nil {
		slog.Warn("document saved without fresh embeddings",
			"document_id", doc.ID,
			"request_id", RequestIDFromContext(ctx),
			"error", err,
		)
		out.Body.EmbeddingError = publicMessage(err)
	}
	return out, nil
}

func (s *Server) handleRegenerate(ctx context.Context, input *documentIDInput) (*regenerateOutput, error) {
	if _, err := s.authorize(ctx, authz.ActionWrite, input.ID); err != nil {
		return nil, err
	}

	doc, err := s.services.documents.Get(ctx, input.ID)
	if err != nil {
		return nil, apiError(ctx, err)
	}

	report, err := s.services.rag.Regenerate(ctx, doc)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	return &regenerateOutput{Body: report}, nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, input *documentIDInput) (*struct{}, error) {
	if _, err := s.authorize(ctx, authz.ActionDelete, input.ID); err != nil {
		return nil, err
	}

	if err := s.services.rag.RemoveDocument(ctx, input.ID); err != nil {
		return nil, apiError(ctx, err)
	}
	return nil, nil
}

func (s *Server) handleSearch(ctx context.Context, input *searchInput) (*searchOutput, error) {
	subject, err := requireSubject(ctx)
	if err != nil {
		return nil, apiError(ctx, err)
	}

	limit := input.Body.Limit
	if limit == 0 {
		limit = input.Body.MaxResults
	}
	if limit == 0 {
		limit = defaultSearchLimit
	}

	results, err := s.services.rag.Search(ctx, rag.SearchRequest{
		Query:         input.Body.Query,
		Subject:       subject,
		DocumentTypes: input.Body.DocumentTypes,
		Department:    input.Body.Department,
		Limit:         limit,
	})
	if err != nil {
		return nil, apiError(ctx, err)
	}

	out := &searchOutput{}
	out.Body.Results = results
	if out.Body.Results == nil {
		out.Body.Results = []store.SearchResult{}
	}
	out.Body.Count = len(out.Body.Results)
	return out, nil
}

func (s *Server) handleAsk(ctx context.Context, input *askInput) (*askOutput, error) {
	subject, err := requireSubject(ctx)
	if err != nil {
		return nil, apiError(ctx, err)
	}

	answer, err := s.services.rag.Answer(ctx, rag.AnswerRequest{
		Question:   input.Body.Message,
		Subject:    subject,
		MaxResults: input.Body.MaxResults,
		PatientID:  input.Body.ContextPatientID,
		Department: input.Body.ContextDepartment,
	})
	if err != nil {
		return nil, apiError(ctx, err)
	}
	return &askOutput{Body: answer}, nil
}

// authorize resolves the subject and checks action on a document; ID zero
// asks about creating one. Denials are 403 whether or not the document
// exists, so existence is not disclosed.
func (s *Server) authorize(ctx context.Context, action string, documentID int64) (authz.Subject, error) {
	subject, err := requireSubject(ctx)
	if err != nil {
		return authz.Subject{}, apiError(ctx, err)
	}

	ok, err := s.services.authorizer.IsAllowed(ctx, subject, action, authz.Resource{
		Type: authz.ResourceDocument,
		ID:   documentID,
	})
	if err != nil {
		return authz.Subject{}, apiError(ctx, err)
	}
	if !ok {
		slog.Info("document access denied",
			"subject_id", subject.ID,
			"role", subject.Role,
			"action", action,
			"document_id", documentID,
			"request_id", RequestIDFromContext(ctx),
		)
		return authz.Subject{}, huma.Error403Forbidden("not permitted to " + action + " this document")
	}
	return subject, nil
}

// apiError converts a coded error into a huma status error. Server-side
// failures are logged and answered with a generic message.
func apiError(ctx context.Context, err error) error {
	status := mederr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		slog.Error("request failed",
			"code", mederr.CodeOf(err),
			"request_id", RequestIDFromContext(ctx),
			"error", err,
		)
	}
	return huma.NewError(status, publicMessage(err))
}

// publicMessage hides internal failure detail from callers.
func publicMessage(err error) string {
	switch status := mederr.HTTPStatus(err); {
	case status == http.StatusServiceUnavailable:
		return "authorization service unavailable"
	case status == http.StatusBadGateway || status == http.StatusGatewayTimeout:
		return "embedding provider failed; try again later"
	case status >= http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}
