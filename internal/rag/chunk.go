// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag

import (
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// Chunk splits text into windows of size runes, each starting size-overlap
// runes after the previous one. The window slides until the remainder fits
// in one window, which becomes the final chunk. Empty text yields no
// chunks. Consecutive chunks share exactly overlap runes.
func Chunk(text string, size, overlap int) ([]string, error) {
	c, err := NewChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}

// Chunker carries a validated window size and overlap.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates size > 0 and 0 <= overlap < size.
func NewChunker(size, overlap int) (Chunker, error) {
	switch {
	case size <= 0:
		return Chunker{}, mederr.New(mederr.CodeChunkConfigInvalid, "chunk size must be positive",
			mederr.Field("chunk_size", size))
	case overlap < 0:
		return Chunker{}, mederr.New(mederr.CodeChunkConfigInvalid, "chunk overlap must not be negative",
			mederr.Field("chunk_overlap", overlap))
	case overlap >= size:
		return Chunker{}, mederr.New(mederr.CodeChunkConfigInvalid, "chunk overlap must be smaller than chunk size",
			mederr.Field("chunk_size", size),
			mederr.Field("chunk_overlap", overlap),
		)
	}
	return Chunker{size: size, overlap: overlap}, nil
}

// Split applies the window to text. The zero Chunker returns text as a
// single chunk.
func (c Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{}
	}
	if c.size <= 0 {
		return []string{text}
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; ; start += step {
		if len(runes)-start <= c.size {
			chunks = append(chunks, string(runes[start:]))
			return chunks
		}
		chunks = append(chunks, string(runes[start:start+c.size]))
	}
}
