// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Normalize cleans raw document text before chunking. Line endings become
// "\n", invalid UTF-8 becomes U+FFFD, control characters other than
// newline and tab are dropped, horizontal whitespace runs collapse to one
// space, trailing spaces are removed from each line, and more than one
// blank line in a row collapses to a single blank line. The result is
// trimmed. Normalize is idempotent.
func Normalize(raw string) string {
	s := strings.ToValidUTF8(raw, string(utf8.RuneError))
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))

	space := false
	newlines := 0
	for _, r := range s {
		switch {
		case r == '\n':
			space = false
			newlines++
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
			// dropped
		default:
			if b.Len() > 0 {
				if newlines > 0 {
					b.WriteString(strings.Repeat("\n", min(newlines, 2)))
				}
				if space {
					b.WriteByte(' ')
				}
			}
			newlines = 0
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
