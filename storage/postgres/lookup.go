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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage"
)

type lookupStore struct {
	db         *sqlx.DB
	dimensions map[string]struct{}
}

var _ storage.LookupStore = (*lookupStore)(nil)

// NewLookupStore creates a dimension lookup store over an open connection
// pool. The store does not own the pool; Close is a no-op.
func NewLookupStore(db *sqlx.DB) storage.LookupStore {
	dims := make(map[string]struct{})
	for _, dim := range core.KnownDimensions() {
		dims[dim] = struct{}{}
	}
	return &lookupStore{db: db, dimensions: dims}
}

func (s *lookupStore) FindLookup(ctx context.Context, dimension, naturalKey string) (int64, error) {
	if err := s.checkDimension(dimension); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT "id" FROM %s WHERE "nombre" = $1`, quoteIdent(dimension))
	var id int64
	err := s.db.QueryRowxContext(ctx, query, naturalKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup %s/%q: %w", dimension, naturalKey, storage.ErrNotFound)
	}
	if err != nil {
		return 0, wrapPgError(fmt.Sprintf("lookup %s", dimension), err)
	}
	return id, nil
}

// GetOrCreateLookup inserts the entry if absent and reads back its id. The
// insert tolerates a concurrent winner: ON CONFLICT DO NOTHING followed by a
// plain select converges every racer on the id the first writer created.
func (s *lookupStore) GetOrCreateLookup(ctx context.Context, dimension, naturalKey string) (int64, error) {
	if err := s.checkDimension(dimension); err != nil {
		return 0, err
	}
	if naturalKey == "" {
		return 0, fmt.Errorf("lookup %s: empty natural key", dimension)
	}

	insert := fmt.Sprintf(
		`INSERT INTO %s ("nombre") VALUES ($1) ON CONFLICT ("nombre") DO NOTHING RETURNING "id"`,
		quoteIdent(dimension),
	)
	var id int64
	err := s.db.QueryRowxContext(ctx, insert, naturalKey).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, wrapPgError(fmt.Sprintf("create lookup %s", dimension), err)
	}

	// A concurrent writer got there first; its row is the one to use.
	return s.FindLookup(ctx, dimension, naturalKey)
}

func (s *lookupStore) Close() error {
	return nil
}

func (s *lookupStore) checkDimension(dimension string) error {
	if _, ok := s.dimensions[dimension]; !ok {
		return fmt.Errorf("unknown lookup dimension %q", dimension)
	}
	return nil
}
