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

package mock

import "github.com/poiesic/finpipe/ai"

// MockProvider is a test double for ai.Provider.
type MockProvider struct {
	embedder  *MockEmbedder
	extractor *MockFieldExtractor
}

var _ ai.Provider = (*MockProvider)(nil)

// NewMockProvider creates a provider with default mock services at the
// given embedding dimension.
//
// Returns ai.Provider for consistency with production constructors. Use
// GetMockEmbedder()/GetMockExtractor() to access concrete types for test
// assertions.
func NewMockProvider(dimension int) ai.Provider {
	return &MockProvider{
		embedder:  NewMockEmbedder(dimension),
		extractor: NewMockFieldExtractor(),
	}
}

// NewMockProviderWithServices creates a mock provider with custom services,
// allowing full control over the behavior of each.
func NewMockProviderWithServices(embedder *MockEmbedder, extractor *MockFieldExtractor) ai.Provider {
	return &MockProvider{
		embedder:  embedder,
		extractor: extractor,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// FieldExtractor returns the mock field extractor.
func (p *MockProvider) FieldExtractor() ai.FieldExtractor {
	return p.extractor
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockExtractor returns the underlying mock extractor for test assertions.
func (p *MockProvider) GetMockExtractor() *MockFieldExtractor {
	return p.extractor
}
