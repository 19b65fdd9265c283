package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity
// search. Implementations must be thread-safe for concurrent use and must
// produce vectors of the deployment's configured dimensionality.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates embeddings for multiple texts in a batch, in the
	// same order as the input. Batch calls are preferred; one document's
	// chunks always travel together so its vector set stays all-or-nothing.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// FieldExtractor extracts structured field values from unstructured document
// content. The schema hint names the target table whose fields the extractor
// should fill.
//
// Implementations must be deterministic for identical input: the same raw
// content and hint must yield the same field map, or the coordinator's
// resume semantics break.
type FieldExtractor interface {
	// ExtractFields analyzes raw content and returns a mapping of field name
	// to raw string value for the hinted target schema. Missing fields are
	// simply absent from the map; downstream validation decides whether the
	// resulting draft is acceptable.
	ExtractFields(ctx context.Context, rawContent, schemaHint string) (map[string]string, error)
}

// Provider aggregates the AI services for convenient initialization and
// lifecycle management.
type Provider interface {
	// Embedder returns the text embedding service, safe for concurrent use.
	Embedder() Embedder

	// FieldExtractor returns the structured field extraction service, safe
	// for concurrent use.
	FieldExtractor() FieldExtractor

	// Close releases resources held by the provider and its services.
	Close() error
}
