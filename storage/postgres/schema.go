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
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/poiesic/finpipe/core"
)

// EnsureSchema creates the lookup and fact tables if they do not exist. The
// DDL is derived from the field specs so the schema cannot drift from what
// validation and the upsert path expect.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	dims := core.KnownDimensions()
	sort.Strings(dims)
	for _, dim := range dims {
		ddl := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s ("id" BIGSERIAL PRIMARY KEY, "nombre" TEXT UNIQUE NOT NULL)`,
			quoteIdent(dim),
		)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create lookup table %s: %w", dim, err)
		}
	}

	tables := core.KnownTables()
	sort.Strings(tables)
	for _, table := range tables {
		specs, _ := core.RequiredFields(table)
		if _, err := db.ExecContext(ctx, factTableDDL(table, specs)); err != nil {
			return fmt.Errorf("create fact table %s: %w", table, err)
		}
	}
	return nil
}

func factTableDDL(table string, specs []core.FieldSpec) string {
	cols := []string{
		`"id" BIGSERIAL PRIMARY KEY`,
		`"fingerprint" TEXT UNIQUE NOT NULL`,
	}
	for _, spec := range specs {
		cols = append(cols, fmt.Sprintf("%s %s NOT NULL", quoteIdent(spec.Name), columnType(spec)))
	}
	cols = append(cols,
		`"contenido" TEXT`,
		`"created_at" TIMESTAMPTZ NOT NULL DEFAULT now()`,
	)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
}

func columnType(spec core.FieldSpec) string {
	switch spec.Kind {
	case core.FieldDate:
		return "DATE"
	case core.FieldDecimal:
		return "NUMERIC"
	case core.FieldRef:
		return fmt.Sprintf(`BIGINT REFERENCES %s ("id")`, quoteIdent(spec.Dimension))
	default:
		return "TEXT"
	}
}
