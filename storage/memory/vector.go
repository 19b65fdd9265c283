package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage"
)

// VectorStore is an in-memory storage.VectorStore. Set UpsertFunc to
// override behavior in tests, e.g. to make the vector phase fail and force a
// partial write.
type VectorStore struct {
	UpsertFunc func(ctx context.Context, vectors ...*core.EmbeddingVector) ([]string, error)

	mu      sync.RWMutex
	vectors map[string]*core.EmbeddingVector
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates an empty in-memory vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{vectors: make(map[string]*core.EmbeddingVector)}
}

func (s *VectorStore) UpsertVectors(ctx context.Context, vectors ...*core.EmbeddingVector) ([]string, error) {
	if s.UpsertFunc != nil {
		return s.UpsertFunc(ctx, vectors...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(vectors))
	for _, vec := range vectors {
		id := vec.VectorID()
		s.vectors[id] = vec
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *VectorStore) CountVectors(ctx context.Context, fingerprint core.Fingerprint) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	prefix := string(fingerprint) + ":"
	for id := range s.vectors {
		if strings.HasPrefix(id, prefix) {
			count++
		}
	}
	return count, nil
}

func (s *VectorStore) DeleteVectors(ctx context.Context, fingerprint core.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := string(fingerprint) + ":"
	for id := range s.vectors {
		if strings.HasPrefix(id, prefix) {
			delete(s.vectors, id)
		}
	}
	return nil
}

// Insert stores vectors directly, bypassing UpsertFunc. Lets a selective
// failure hook still persist the vectors it does not reject.
func (s *VectorStore) Insert(vectors ...*core.EmbeddingVector) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(vectors))
	for _, vec := range vectors {
		id := vec.VectorID()
		s.vectors[id] = vec
		ids = append(ids, id)
	}
	return ids
}

// Vector returns the stored embedding for an id, if present.
func (s *VectorStore) Vector(id string) (*core.EmbeddingVector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.vectors[id]
	return vec, ok
}

func (s *VectorStore) Close() error {
	return nil
}
