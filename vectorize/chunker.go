// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vectorize

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/poiesic/finpipe/core"
)

const (
	// DefaultChunkSize is the chunk length in runes.
	DefaultChunkSize = 500
	// DefaultChunkOverlap is how many runes consecutive chunks share.
	DefaultChunkOverlap = 50
)

// Chunker splits text into bounded, overlapping segments, preferring to
// break at sentence boundaries.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker. The overlap must be smaller than the chunk
// size or the window could never advance.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, chunkOverlap)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// NewDefaultChunker creates a chunker with the default policy.
func NewDefaultChunker() *Chunker {
	c, _ := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	return c
}

// Chunk segments a document's text. Start and End index runes of the
// cleaned text and delimit exactly the chunk's Text, chunk indexes are
// contiguous from zero, and the output depends only on the text and the
// chunk policy.
func (c *Chunker) Chunk(fingerprint core.Fingerprint, text string) []core.TextChunk {
	runes := []rune(cleanText(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []core.TextChunk
	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		// Prefer a sentence boundary in the back half of the window.
		if end < len(runes) {
			for i := end; i > start+c.chunkSize/2; i-- {
				r := runes[i-1]
				if r == '.' || r == '!' || r == '?' || r == '\n' {
					end = i
					break
				}
			}
		}

		// Trim whitespace at the window edges, moving the offsets with it
		// so [Start, End) always delimits the stored text.
		segStart, segEnd := start, end
		for segStart < segEnd && unicode.IsSpace(runes[segStart]) {
			segStart++
		}
		for segEnd > segStart && unicode.IsSpace(runes[segEnd-1]) {
			segEnd--
		}
		if segStart < segEnd {
			chunks = append(chunks, core.TextChunk{
				Fingerprint: fingerprint,
				Index:       len(chunks),
				Text:        string(runes[segStart:segEnd]),
				Start:       segStart,
				End:         segEnd,
			})
		}

		if end >= len(runes) {
			break
		}
		next := end - c.chunkOverlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// cleanText collapses whitespace runs to single spaces, keeping newlines so
// the boundary search can still break on them.
func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	prevSpace := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) && r != '\n' {
			if !prevSpace {
				b.WriteRune(' ')
				prevSpace = true
			}
			continue
		}
		b.WriteRune(r)
		prevSpace = false
	}
	return b.String()
}
