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

// Package pgvector implements the vector store on PostgreSQL with the
// pgvector extension. Vectors are keyed by "<fingerprint>:<chunkIndex>" so
// re-embedding a document overwrites its previous vectors instead of
// accumulating duplicates.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage"
)

const vectorTable = "documento_vectorial"

type vectorStore struct {
	db *sqlx.DB
}

var _ storage.VectorStore = (*vectorStore)(nil)

// NewVectorStore creates a vector store over an open connection pool. The
// store does not own the pool; Close is a no-op.
func NewVectorStore(db *sqlx.DB) storage.VectorStore {
	return &vectorStore{db: db}
}

// EnsureSchema enables the vector extension and creates the embedding table
// at the given dimensionality. Changing the dimension of an existing
// deployment requires a migration; this only creates what is missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dimension)
	}
	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("enable vector extension: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		"vector_id" TEXT PRIMARY KEY,
		"fingerprint" TEXT NOT NULL,
		"chunk_index" INT NOT NULL,
		"embedding" vector(%d) NOT NULL,
		"metadata" JSONB,
		"created_at" TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, vectorTable, dimension)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create vector table: %w", err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s_fingerprint_idx" ON %q ("fingerprint")`,
		vectorTable, vectorTable)
	if _, err := db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create fingerprint index: %w", err)
	}
	return nil
}

func (s *vectorStore) UpsertVectors(ctx context.Context, vectors ...*core.EmbeddingVector) ([]string, error) {
	if len(vectors) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %q ("vector_id", "fingerprint", "chunk_index", "embedding", "metadata")
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ("vector_id") DO UPDATE SET
			"embedding" = EXCLUDED."embedding",
			"metadata" = EXCLUDED."metadata"
	`, vectorTable)

	ids := make([]string, 0, len(vectors))
	for _, vec := range vectors {
		meta, err := json.Marshal(vec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata for %s: %w", storage.ErrSerializationFailed, vec.VectorID(), err)
		}
		id := vec.VectorID()
		if _, err := tx.ExecContext(ctx, query,
			id,
			string(vec.Fingerprint),
			vec.ChunkIndex,
			pgv.NewVector(vec.Vector),
			meta,
		); err != nil {
			return nil, fmt.Errorf("upsert vector %s: %w", id, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	return ids, nil
}

func (s *vectorStore) CountVectors(ctx context.Context, fingerprint core.Fingerprint) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %q WHERE "fingerprint" = $1`, vectorTable)
	var count int
	if err := s.db.QueryRowxContext(ctx, query, string(fingerprint)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count vectors for %s: %w", fingerprint, err)
	}
	return count, nil
}

func (s *vectorStore) DeleteVectors(ctx context.Context, fingerprint core.Fingerprint) error {
	query := fmt.Sprintf(`DELETE FROM %q WHERE "fingerprint" = $1`, vectorTable)
	if _, err := s.db.ExecContext(ctx, query, string(fingerprint)); err != nil {
		return fmt.Errorf("delete vectors for %s: %w", fingerprint, err)
	}
	return nil
}

func (s *vectorStore) Close() error {
	return nil
}
