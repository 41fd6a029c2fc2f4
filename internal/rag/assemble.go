// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/sigil-dev/medrag/internal/store"
)

const (
	tokensPerWord = 1.3
	charsPerToken = 4
)

// EstimateTokens approximates the token count of text as the larger of
// words*1.3 and runes/4, rounded up. It is deterministic and never
// decreases as text grows. Non-empty text costs at least one token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byWords := int(math.Ceil(float64(len(strings.Fields(text))) * tokensPerWord))
	byChars := (utf8.RuneCountInString(text) + charsPerToken - 1) / charsPerToken
	return max(byWords, byChars, 1)
}

// FormatBlock renders one search hit as a context block.
func FormatBlock(title, content string) string {
	return "Document: " + title + "\nContent: " + content + "\n---\n"
}

// Assemble greedily concatenates blocks for results in order, stopping at
// the first block whose estimated cost would push the total over
// maxTokens. Blocks are joined by a newline.
func Assemble(results []store.SearchResult, maxTokens int) string {
	if len(results) == 0 || maxTokens <= 0 {
		return ""
	}

	blocks := make([]string, 0, len(results))
	used := 0
	for _, r := range results {
		block := FormatBlock(r.Title, r.Content)
		cost := EstimateTokens(block)
		if used+cost > maxTokens {
			break
		}
		blocks = append(blocks, block)
		used += cost
	}
	return strings.Join(blocks, "\n")
}
