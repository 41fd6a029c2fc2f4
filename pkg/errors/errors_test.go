// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := mederr.New(
		mederr.CodeChunkConfigInvalid,
		"overlap must be smaller than chunk size",
		mederr.FieldDocumentID(42),
		mederr.Field("overlap", 1000),
	)

	require.Error(t, err)
	assert.Equal(t, mederr.CodeChunkConfigInvalid, mederr.CodeOf(err))
	assert.True(t, mederr.HasCode(err, mederr.CodeChunkConfigInvalid))

	fields := mederr.FieldsOf(err)
	assert.Equal(t, int64(42), fields["document_id"])
	assert.Equal(t, 1000, fields["overlap"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := mederr.Errorf(mederr.CodeStoreDatabaseFailure, "write failed: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, mederr.CodeStoreDatabaseFailure, mederr.CodeOf(err))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, mederr.Wrap(nil, mederr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, mederr.Wrapf(nil, mederr.CodeServerInternalFailure, "ignored %s", "arg"))
	assert.NoError(t, mederr.With(nil, mederr.FieldProvider("x")))
}

func TestWrapfFormatsAndPreservesChain(t *testing.T) {
	root := stderrors.New("connection reset")
	err := mederr.Wrapf(root, mederr.CodeEmbeddingUpstreamFailure, "embedding with %s model %s", "openai", "text-embedding-3-small")

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, mederr.CodeEmbeddingUpstreamFailure, mederr.CodeOf(err))
	assert.Contains(t, err.Error(), "embedding with openai model text-embedding-3-small")
}

func TestWithAddsContextWithoutChangingCode(t *testing.T) {
	base := mederr.New(mederr.CodeAuthzUnavailable, "policy service down")
	withCtx := mederr.With(base, mederr.FieldSubjectID("u-7"))

	assert.Equal(t, mederr.CodeAuthzUnavailable, mederr.CodeOf(withCtx))
	assert.Equal(t, "u-7", mederr.FieldsOf(withCtx)["subject_id"])
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	enriched := mederr.With(stderrors.New("something broke"), mederr.FieldDocumentID(1))
	assert.Equal(t, mederr.CodeServerInternalFailure, mederr.CodeOf(enriched))
}

func TestCodeOfReturnsInnermostCode(t *testing.T) {
	sentinel := stderrors.New("original")
	first := mederr.Wrap(sentinel, mederr.CodeStoreDatabaseFailure, "layer 1")
	second := mederr.Wrap(first, mederr.CodeIngestStoreFailure, "layer 2")

	assert.ErrorIs(t, second, sentinel)
	assert.Equal(t, mederr.CodeStoreDatabaseFailure, mederr.CodeOf(second))
	assert.True(t, mederr.IsStore(second))
}

func TestFieldsOfPlainError(t *testing.T) {
	assert.Nil(t, mederr.FieldsOf(nil))
	assert.Nil(t, mederr.FieldsOf(stderrors.New("plain")))
	assert.Empty(t, mederr.CodeOf(fmt.Errorf("plain %d", 1)))
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := mederr.New(mederr.CodeStoreDatabaseFailure, "boom",
		mederr.Field("", "should-be-dropped"),
		mederr.FieldProvider("kept"),
	)
	fields := mederr.FieldsOf(err)
	assert.Equal(t, "kept", fields["provider"])
	assert.NotContains(t, fields, "")
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name  string
		code  mederr.Code
		check func(error) bool
	}{
		{"chunk config", mederr.CodeChunkConfigInvalid, mederr.IsConfiguration},
		{"config value", mederr.CodeConfigValidateInvalidValue, mederr.IsConfiguration},
		{"embedding upstream", mederr.CodeEmbeddingUpstreamFailure, mederr.IsEmbedding},
		{"embedding timeout", mederr.CodeEmbeddingTimeout, mederr.IsEmbedding},
		{"embedding dimension", mederr.CodeEmbeddingDimensionMismatch, mederr.IsEmbedding},
		{"ingest aggregate", mederr.CodeIngestEmbeddingFailure, mederr.IsEmbedding},
		{"store database", mederr.CodeStoreDatabaseFailure, mederr.IsStore},
		{"store dimension", mederr.CodeStoreDimensionMismatch, mederr.IsStore},
		{"generation upstream", mederr.CodeGenerationUpstreamFailure, mederr.IsGeneration},
		{"generation timeout", mederr.CodeGenerationTimeout, mederr.IsGeneration},
		{"authz", mederr.CodeAuthzUnavailable, mederr.IsAuthorizationUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(mederr.New(tt.code, "x")))
		})
	}

	assert.False(t, mederr.IsEmbedding(mederr.New(mederr.CodeGenerationUpstreamFailure, "x")))
	assert.False(t, mederr.IsStore(stderrors.New("plain")))
}

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   mederr.Code
		status int
	}{
		{"not found", mederr.CodeStoreDocumentNotFound, http.StatusNotFound},
		{"conflict", mederr.CodeStoreChunksConflict, http.StatusConflict},
		{"invalid", mederr.CodeChunkConfigInvalid, http.StatusBadRequest},
		{"invalid value", mederr.CodeConfigValidateInvalidValue, http.StatusBadRequest},
		{"denied", mederr.CodeAuthzDenied, http.StatusForbidden},
		{"unauthorized", mederr.CodeServerAuthUnauthorized, http.StatusUnauthorized},
		{"unavailable", mederr.CodeAuthzUnavailable, http.StatusServiceUnavailable},
		{"timeout", mederr.CodeGenerationTimeout, http.StatusGatewayTimeout},
		{"upstream", mederr.CodeEmbeddingUpstreamFailure, http.StatusBadGateway},
		{"ingest", mederr.CodeIngestEmbeddingFailure, http.StatusBadGateway},
		{"embedding timeout", mederr.CodeEmbeddingTimeout, http.StatusGatewayTimeout},
		{"embedding dimension", mederr.CodeEmbeddingDimensionMismatch, http.StatusBadGateway},
		{"embedding rejected", mederr.CodeEmbeddingRequestRejected, http.StatusBadGateway},
		{"internal", mederr.CodeStoreDatabaseFailure, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, mederr.HTTPStatus(mederr.New(tt.code, "x")))
		})
	}

	assert.Equal(t, http.StatusInternalServerError, mederr.HTTPStatus(stderrors.New("plain")))
}

func TestHTTPStatus_AggregateKeepsCause(t *testing.T) {
	cause := mederr.New(mederr.CodeEmbeddingTimeout, "deadline")
	agg := mederr.Wrap(cause, mederr.CodeIngestEmbeddingFailure, "embedding failed for one or more chunks")

	assert.ErrorIs(t, agg, cause)
	assert.True(t, mederr.IsTimeout(agg))
	assert.True(t, mederr.IsEmbedding(agg))
	assert.Equal(t, http.StatusGatewayTimeout, mederr.HTTPStatus(agg))

	plain := mederr.Wrap(stderrors.New("canceled"), mederr.CodeIngestEmbeddingFailure, "embedding failed")
	assert.True(t, mederr.HasCode(plain, mederr.CodeIngestEmbeddingFailure))
	assert.Equal(t, http.StatusBadGateway, mederr.HTTPStatus(plain))
}

func TestJoinKeepsAllErrors(t *testing.T) {
	a := stderrors.New("a")
	b := stderrors.New("b")
	joined := mederr.Join(a, b)

	assert.ErrorIs(t, joined, a)
	assert.ErrorIs(t, joined, b)
	assert.Equal(t, mederr.CodeServerInternalFailure, mederr.CodeOf(joined))
}
