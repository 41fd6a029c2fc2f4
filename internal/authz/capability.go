// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package authz

import (
	"strings"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// Capabilities are dotted strings of the form "<resource>.<action>", for
// example "document.read". Patterns may use "*" as a whole segment, which
// matches one or more segments, or inside a segment, where it matches zero
// or more characters of that segment only.
const maxSegments = 32

// CapabilitySet is an immutable set of capability patterns.
type CapabilitySet struct {
	patterns []string
}

// NewCapabilitySet validates and copies patterns.
func NewCapabilitySet(patterns ...string) (CapabilitySet, error) {
	for _, p := range patterns {
		if err := ValidatePattern(p); err != nil {
			return CapabilitySet{}, err
		}
	}
	return CapabilitySet{patterns: append([]string(nil), patterns...)}, nil
}

// ValidatePattern rejects empty, malformed or overlong patterns.
func ValidatePattern(pattern string) error {
	if !wellFormed(pattern) {
		return mederr.New(mederr.CodeAuthzPolicyInvalid, "malformed capability pattern",
			mederr.Field("pattern", pattern))
	}
	if n := strings.Count(pattern, ".") + 1; n > maxSegments {
		return mederr.Errorf(mederr.CodeAuthzPolicyInvalid,
			"capability pattern exceeds maximum %d segments: got %d", maxSegments, n)
	}
	return nil
}

// Contains reports whether any pattern in the set matches capability.
func (s CapabilitySet) Contains(capability string) bool {
	for _, p := range s.patterns {
		if MatchCapability(p, capability) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the set's patterns.
func (s CapabilitySet) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

// MatchCapability reports whether capability matches pattern. Malformed or
// overlong inputs never match.
func MatchCapability(pattern, capability string) bool {
	if !wellFormed(pattern) || !wellFormed(capability) {
		return false
	}

	ps := strings.Split(pattern, ".")
	cs := strings.Split(capability, ".")
	if len(ps) > maxSegments || len(cs) > maxSegments {
		return false
	}

	// ok[i][j]: ps[i:] matches cs[j:]. Filled from the end.
	ok := make([][]bool, len(ps)+1)
	for i := range ok {
		ok[i] = make([]bool, len(cs)+1)
	}
	ok[len(ps)][len(cs)] = true

	for i := len(ps) - 1; i >= 0; i-- {
		for j := len(cs) - 1; j >= 0; j-- {
			if ps[i] == "*" {
				for next := j + 1; next <= len(cs); next++ {
					if ok[i+1][next] {
						ok[i][j] = true
						break
					}
				}
				continue
			}
			ok[i][j] = segmentMatches(ps[i], cs[j]) && ok[i+1][j+1]
		}
	}
	return ok[0][0]
}

func wellFormed(s string) bool {
	return s != "" && !strings.HasPrefix(s, ".") && !strings.HasSuffix(s, ".") && !strings.Contains(s, "..")
}

func segmentMatches(pattern, segment string) bool {
	if pattern == segment {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	return globSegment(pattern, segment)
}

// globSegment matches text against pattern where '*' matches any run of
// characters, backtracking to the last star on mismatch.
func globSegment(pattern, text string) bool {
	p, t := 0, 0
	star, mark := -1, 0

	for t < len(text) {
		switch {
		case p < len(pattern) && pattern[p] == text[t]:
			p++
			t++
		case p < len(pattern) && pattern[p] == '*':
			star, mark = p, t
			p++
		case star != -1:
			p = star + 1
			mark++
			t = mark
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
