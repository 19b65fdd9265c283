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

package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage"
)

// RelationalStore is an in-memory storage.RelationalStore. Set UpsertFunc to
// override behavior in tests, e.g. to inject a transaction failure.
type RelationalStore struct {
	UpsertFunc func(ctx context.Context, drafts ...*core.RecordDraft) ([]core.RelationalKey, error)

	mu     sync.RWMutex
	ids    map[string]map[core.Fingerprint]int64 // table -> fingerprint -> id
	rows   map[string]map[int64]*core.RecordDraft
	nextID int64
}

var _ storage.RelationalStore = (*RelationalStore)(nil)

// NewRelationalStore creates an empty in-memory fact-record store.
func NewRelationalStore() *RelationalStore {
	return &RelationalStore{
		ids:  make(map[string]map[core.Fingerprint]int64),
		rows: make(map[string]map[int64]*core.RecordDraft),
	}
}

func (s *RelationalStore) UpsertRecords(ctx context.Context, drafts ...*core.RecordDraft) ([]core.RelationalKey, error) {
	if s.UpsertFunc != nil {
		return s.UpsertFunc(ctx, drafts...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before touching state so a bad draft leaves
	// nothing behind, matching the transactional backend.
	for _, draft := range drafts {
		if _, ok := core.RequiredFields(draft.TargetTable); !ok {
			return nil, fmt.Errorf("upsert into %q: %w", draft.TargetTable, core.ErrUnknownTable)
		}
	}

	keys := make([]core.RelationalKey, 0, len(drafts))
	for _, draft := range drafts {
		table := draft.TargetTable
		if s.ids[table] == nil {
			s.ids[table] = make(map[core.Fingerprint]int64)
			s.rows[table] = make(map[int64]*core.RecordDraft)
		}
		id, ok := s.ids[table][draft.Fingerprint]
		if !ok {
			s.nextID++
			id = s.nextID
			s.ids[table][draft.Fingerprint] = id
		}
		s.rows[table][id] = draft
		keys = append(keys, core.RelationalKey{Table: table, ID: id})
	}
	return keys, nil
}

// Record returns the stored draft for a relational key, if present.
func (s *RelationalStore) Record(key core.RelationalKey) (*core.RecordDraft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draft, ok := s.rows[key.Table][key.ID]
	return draft, ok
}

// Count returns the number of rows stored in a table.
func (s *RelationalStore) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[table])
}

func (s *RelationalStore) Close() error {
	return nil
}
