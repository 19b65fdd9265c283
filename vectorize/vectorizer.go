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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/finpipe/ai"
	"github.com/poiesic/finpipe/core"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Vectorizer chunks documents and embeds the chunks.
type Vectorizer struct {
	chunker     *Chunker
	embedder    ai.Embedder
	dimension   int
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// Option is a functional option for configuring a Vectorizer.
type Option func(*Vectorizer)

// WithChunker replaces the default chunk policy.
func WithChunker(chunker *Chunker) Option {
	return func(v *Vectorizer) {
		v.chunker = chunker
	}
}

// WithMaxAttempts sets the embedding retry budget per document.
func WithMaxAttempts(n int) Option {
	return func(v *Vectorizer) {
		v.maxAttempts = n
	}
}

// WithBaseDelay sets the initial backoff delay between embedding retries.
func WithBaseDelay(d time.Duration) Option {
	return func(v *Vectorizer) {
		v.baseDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vectorizer) {
		v.logger = logger
	}
}

// NewVectorizer creates a vectorizer. The dimension is the deployment's
// fixed embedding dimensionality: any produced vector of a different length
// aborts the run rather than being recorded as a per-item failure.
func NewVectorizer(embedder ai.Embedder, dimension int, opts ...Option) *Vectorizer {
	v := &Vectorizer{
		chunker:     NewDefaultChunker(),
		embedder:    embedder,
		dimension:   dimension,
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Vectorize chunks one document and embeds every chunk in a single batch.
// The metadata map is mirrored onto each vector together with the chunk
// text, so vector hits can be traced back to their structured record
// without a second query.
//
// Embedding is all-or-nothing per document: a failed batch returns a
// *core.EmbeddingError covering the whole document and no vectors.
func (v *Vectorizer) Vectorize(ctx context.Context, doc *core.ExtractedDocument, metadata map[string]string) ([]*core.EmbeddingVector, error) {
	chunks := v.chunker.Chunk(doc.Fingerprint, doc.RawContent)
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	var embeddings [][]float32
	err := core.RetryWithBackoff(ctx, func() error {
		batch, embedErr := v.embedder.EmbedTexts(ctx, texts)
		if embedErr != nil {
			return embedErr
		}
		embeddings = batch
		return nil
	}, v.maxAttempts, v.baseDelay)
	if err != nil {
		return nil, &core.EmbeddingError{Fingerprint: doc.Fingerprint, Err: err}
	}

	if len(embeddings) != len(chunks) {
		return nil, &core.EmbeddingError{
			Fingerprint: doc.Fingerprint,
			Err:         fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks)),
		}
	}

	vectors := make([]*core.EmbeddingVector, len(chunks))
	for i, chunk := range chunks {
		if len(embeddings[i]) != v.dimension {
			return nil, fmt.Errorf("%w: got %d, deployment fixed at %d",
				core.ErrDimensionMismatch, len(embeddings[i]), v.dimension)
		}
		vectors[i] = &core.EmbeddingVector{
			Fingerprint: doc.Fingerprint,
			ChunkIndex:  chunk.Index,
			Vector:      embeddings[i],
			Metadata:    chunkMetadata(doc, chunk, metadata),
		}
	}

	v.logger.Debug("vectorized document",
		slog.String("fingerprint", string(doc.Fingerprint)),
		slog.Int("chunks", len(vectors)))
	return vectors, nil
}

func chunkMetadata(doc *core.ExtractedDocument, chunk core.TextChunk, extra map[string]string) map[string]string {
	meta := map[string]string{
		"source_id":    doc.SourceID,
		"target_table": doc.TargetTable,
		"texto":        chunk.Text,
	}
	for k, val := range extra {
		meta[k] = val
	}
	return meta
}
