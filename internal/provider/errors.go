// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"errors"
	"net/http"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// EmbeddingFailure wraps err as an embedding error. Deadline expiry is
// classified as a timeout; a code already on err is preserved.
func EmbeddingFailure(err error, msg string, fields ...mederr.Attr) error {
	code := mederr.CodeEmbeddingUpstreamFailure
	if errors.Is(err, context.DeadlineExceeded) {
		code = mederr.CodeEmbeddingTimeout
	}
	return mederr.Wrap(err, code, msg, fields...)
}

// RejectedStatus reports whether a provider HTTP status means the same
// request will fail again: any 4xx except 408 and 429.
func RejectedStatus(status int) bool {
	return status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}

// EmbeddingStatusFailure is EmbeddingFailure for a call that returned an
// HTTP status. Rejected requests get CodeEmbeddingRequestRejected, which
// Bounded does not retry. A zero status means none was available.
func EmbeddingStatusFailure(err error, status int, msg string, fields ...mederr.Attr) error {
	if RejectedStatus(status) {
		return mederr.Wrap(err, mederr.CodeEmbeddingRequestRejected, msg,
			append(fields, mederr.Field("status", status))...)
	}
	return EmbeddingFailure(err, msg, fields...)
}

// GenerationFailure wraps err as a generation error, with the same
// timeout classification as EmbeddingFailure.
func GenerationFailure(err error, msg string, fields ...mederr.Attr) error {
	code := mederr.CodeGenerationUpstreamFailure
	if errors.Is(err, context.DeadlineExceeded) {
		code = mederr.CodeGenerationTimeout
	}
	return mederr.Wrap(err, code, msg, fields...)
}
