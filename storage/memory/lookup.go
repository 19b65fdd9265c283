package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/finpipe/storage"
)

// LookupStore is an in-memory storage.LookupStore. Set GetOrCreateFunc to
// override behavior in tests.
type LookupStore struct {
	GetOrCreateFunc func(ctx context.Context, dimension, naturalKey string) (int64, error)

	mu      sync.Mutex
	entries map[string]map[string]int64 // dimension -> natural key -> id
	nextID  int64
	creates int
}

var _ storage.LookupStore = (*LookupStore)(nil)

// NewLookupStore creates an empty in-memory lookup store.
func NewLookupStore() *LookupStore {
	return &LookupStore{entries: make(map[string]map[string]int64)}
}

func (s *LookupStore) FindLookup(ctx context.Context, dimension, naturalKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[dimension][naturalKey]
	if !ok {
		return 0, fmt.Errorf("lookup %s/%q: %w", dimension, naturalKey, storage.ErrNotFound)
	}
	return id, nil
}

func (s *LookupStore) GetOrCreateLookup(ctx context.Context, dimension, naturalKey string) (int64, error) {
	if s.GetOrCreateFunc != nil {
		return s.GetOrCreateFunc(ctx, dimension, naturalKey)
	}
	if naturalKey == "" {
		return 0, fmt.Errorf("lookup %s: empty natural key", dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[dimension] == nil {
		s.entries[dimension] = make(map[string]int64)
	}
	if id, ok := s.entries[dimension][naturalKey]; ok {
		return id, nil
	}
	s.nextID++
	s.entries[dimension][naturalKey] = s.nextID
	s.creates++
	return s.nextID, nil
}

// Creates returns how many new entries have been created, for asserting
// that concurrent resolution does not duplicate lookups.
func (s *LookupStore) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (s *LookupStore) Close() error {
	return nil
}
