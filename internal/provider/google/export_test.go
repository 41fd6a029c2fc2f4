// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"google.golang.org/genai"

	"github.com/sigil-dev/medrag/internal/provider"
)

// BuildConfig exposes buildConfig for white-box testing.
var BuildConfig = func(req provider.GenerateRequest) *genai.GenerateContentConfig {
	return buildConfig(req)
}
