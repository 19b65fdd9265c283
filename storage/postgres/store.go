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
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage"
)

// Connect opens a PostgreSQL connection pool and verifies it with a ping.
func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

type relationalStore struct {
	db *sqlx.DB
}

var _ storage.RelationalStore = (*relationalStore)(nil)

// NewRelationalStore creates a fact-record store over an open connection
// pool. The store does not own the pool; Close is a no-op so the pool can be
// shared with the lookup and vector stores.
func NewRelationalStore(db *sqlx.DB) storage.RelationalStore {
	return &relationalStore{db: db}
}

func (s *relationalStore) UpsertRecords(ctx context.Context, drafts ...*core.RecordDraft) ([]core.RelationalKey, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	keys := make([]core.RelationalKey, 0, len(drafts))
	for _, draft := range drafts {
		key, err := upsertDraft(ctx, tx, draft)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	return keys, nil
}

func (s *relationalStore) Close() error {
	return nil
}

// upsertDraft builds and executes an insert keyed on the fingerprint column.
// Conflicting rows are updated column by column so a re-run converges on the
// same relational key.
func upsertDraft(ctx context.Context, tx *sqlx.Tx, draft *core.RecordDraft) (core.RelationalKey, error) {
	specs, ok := core.RequiredFields(draft.TargetTable)
	if !ok {
		return core.RelationalKey{}, fmt.Errorf("upsert into %q: %w", draft.TargetTable, core.ErrUnknownTable)
	}

	columns, values, err := draftColumns(draft, specs)
	if err != nil {
		return core.RelationalKey{}, err
	}

	placeholders := make([]string, len(columns))
	quoted := make([]string, len(columns))
	updates := make([]string, 0, len(columns)-1)
	for i, col := range columns {
		if err := checkIdent(col); err != nil {
			return core.RelationalKey{}, err
		}
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		quoted[i] = quoteIdent(col)
		if col != "fingerprint" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT ("fingerprint") DO UPDATE SET %s RETURNING "id"`,
		quoteIdent(draft.TargetTable),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)

	var id int64
	if err := tx.QueryRowxContext(ctx, query, values...).Scan(&id); err != nil {
		return core.RelationalKey{}, wrapPgError(fmt.Sprintf("upsert into %q", draft.TargetTable), err)
	}
	return core.RelationalKey{Table: draft.TargetTable, ID: id}, nil
}

// draftColumns flattens a draft into parallel column and value slices, in
// deterministic order: fingerprint first, then field columns sorted by name.
// Foreign-key columns take the resolved surrogate id from the draft's
// lookups; date and decimal fields are coerced to their storage types.
func draftColumns(draft *core.RecordDraft, specs []core.FieldSpec) ([]string, []any, error) {
	kinds := make(map[string]core.FieldSpec, len(specs))
	for _, spec := range specs {
		kinds[spec.Name] = spec
	}

	names := make([]string, 0, len(draft.Fields))
	for name := range draft.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	columns := []string{"fingerprint"}
	values := []any{string(draft.Fingerprint)}
	for _, name := range names {
		value := draft.Fields[name]
		spec, required := kinds[name]
		if required {
			switch spec.Kind {
			case core.FieldDate:
				ts, err := core.DateValue(value)
				if err != nil {
					return nil, nil, fmt.Errorf("field %q: %w", name, err)
				}
				value = ts
			case core.FieldDecimal:
				f, err := core.DecimalValue(value)
				if err != nil {
					return nil, nil, fmt.Errorf("field %q: %w", name, err)
				}
				value = f
			case core.FieldRef:
				ref, found := draft.LookupFor(spec.Dimension)
				if !found || ref.ResolvedID <= 0 {
					return nil, nil, fmt.Errorf("field %q: unresolved lookup dimension %q", name, spec.Dimension)
				}
				value = ref.ResolvedID
			}
		}
		columns = append(columns, name)
		values = append(values, value)
	}
	return columns, values, nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func checkIdent(name string) error {
	if name == "" || strings.ContainsAny(name, `"\`) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// wrapPgError maps driver errors onto the storage sentinels so callers can
// test with errors.Is instead of inspecting SQLSTATE codes.
func wrapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %s", op, storage.ErrDuplicateKey, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}
