package mock

import (
	"context"
	"sync"

	"github.com/poiesic/finpipe/ai"
)

// MockFieldExtractor is a test double for ai.FieldExtractor.
type MockFieldExtractor struct {
	// ExtractFieldsFunc is called by ExtractFields if set.
	ExtractFieldsFunc func(ctx context.Context, rawContent, schemaHint string) (map[string]string, error)

	// Responses maps raw content to a canned field map, used when
	// ExtractFieldsFunc is nil. Unknown content yields an empty map.
	Responses map[string]map[string]string

	mu        sync.Mutex
	callCount int
}

var _ ai.FieldExtractor = (*MockFieldExtractor)(nil)

// NewMockFieldExtractor creates a mock extractor with no canned responses.
func NewMockFieldExtractor() *MockFieldExtractor {
	return &MockFieldExtractor{
		Responses: make(map[string]map[string]string),
	}
}

// ExtractFields returns the canned response for the content, or an empty
// field map. Deterministic for identical input, like the real collaborator.
func (m *MockFieldExtractor) ExtractFields(ctx context.Context, rawContent, schemaHint string) (map[string]string, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	if m.ExtractFieldsFunc != nil {
		return m.ExtractFieldsFunc(ctx, rawContent, schemaHint)
	}
	if fields, ok := m.Responses[rawContent]; ok {
		return fields, nil
	}
	return map[string]string{}, nil
}

// CallCount returns the number of times ExtractFields was called.
func (m *MockFieldExtractor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and injected behavior.
func (m *MockFieldExtractor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.ExtractFieldsFunc = nil
	m.Responses = make(map[string]map[string]string)
}
