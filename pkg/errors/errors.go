// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package errors defines medrag's coded error model on top of samber/oops.
// Codes are dotted strings of the form area.operation.reason; the trailing
// reason segment drives classification (IsInvalidInput, IsTimeout, ...).
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreDocumentNotFound   Code = "store.document.get.not_found"
	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreChunksConflict     Code = "store.chunks.conflict"
	CodeStoreInvalidInput       Code = "store.invalid_input"
	CodeStoreDimensionMismatch  Code = "store.vector.dimension_mismatch.invalid"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeChunkConfigInvalid     Code = "rag.chunk.config.invalid"
	CodeIngestEmbeddingFailure Code = "rag.ingest.embedding.failure"
	CodeIngestStoreFailure     Code = "rag.ingest.store.failure"
	CodeRAGRequestInvalid      Code = "rag.request.invalid"

	CodeEmbeddingUpstreamFailure   Code = "provider.embedding.upstream.failure"
	CodeEmbeddingTimeout           Code = "provider.embedding.timeout"
	CodeEmbeddingDimensionMismatch Code = "provider.embedding.dimension_mismatch.invalid"
	CodeEmbeddingRequestRejected   Code = "provider.embedding.request.invalid"
	CodeGenerationUpstreamFailure  Code = "provider.generation.upstream.failure"
	CodeGenerationTimeout          Code = "provider.generation.timeout"
	CodeProviderRequestInvalid     Code = "provider.request.invalid"
	CodeProviderNotFound           Code = "provider.registry.not_found"
	CodeProviderInvalidModelRef    Code = "provider.routing.invalid_model_ref"

	CodeAuthzUnavailable   Code = "authz.decision.unavailable"
	CodeAuthzDenied        Code = "authz.decision.denied"
	CodeAuthzPolicyInvalid Code = "authz.policy.invalid"

	CodeSecretInvalidInput   Code = "secret.input.invalid"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerEntityNotFound   Code = "server.entity.not_found"
	CodeServerConfigInvalid    Code = "server.config.invalid"

	CodeCLISetupFailure     Code = "cli.setup.failure"
	CodeCLIInputInvalid     Code = "cli.input.invalid"
	CodeCLIServerNotRunning Code = "cli.server.unavailable"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldDocumentID(value int64) Attr {
	return Field("document_id", value)
}

func FieldSubjectID(value string) Attr {
	return Field("subject_id", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain, keeping its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

// CodeOf returns the innermost code in err's chain, or "" for plain errors.
// oops resolves to the deepest oops error, so wrapping never masks the cause.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func hasPrefix(err error, prefix string) bool {
	return strings.HasPrefix(string(CodeOf(err)), prefix)
}

// IsConfiguration reports a fatal configuration problem that must not be retried.
func IsConfiguration(err error) bool {
	return HasCode(err, CodeChunkConfigInvalid) || hasPrefix(err, "config.")
}

// IsEmbedding reports a failure of the embedding provider or of an
// ingestion pass caused by one.
func IsEmbedding(err error) bool {
	return hasPrefix(err, "provider.embedding.") || HasCode(err, CodeIngestEmbeddingFailure)
}

// IsStore reports a vector or document store failure.
func IsStore(err error) bool {
	return hasPrefix(err, "store.") || HasCode(err, CodeIngestStoreFailure)
}

func IsGeneration(err error) bool {
	return hasPrefix(err, "provider.generation.")
}

func IsAuthorizationUnavailable(err error) bool {
	return HasCode(err, CodeAuthzUnavailable)
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden" || r == "denied"
}

func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsEmbedding(err) && !IsTimeout(err):
		return http.StatusBadGateway
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		if reason(CodeOf(err)) == "unauthorized" {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
