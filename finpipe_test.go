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

package finpipe

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/extract"
	"github.com/poiesic/finpipe/storage/memory"
)

func staticCatalog(n int) ([]core.SourceDescriptor, *extract.StaticFetcher) {
	sources := make([]core.SourceDescriptor, n)
	payloads := make(map[string]string, n)
	for i := range sources {
		id := fmt.Sprintf("dncp-%d", i)
		sources[i] = core.SourceDescriptor{
			SourceID:    id,
			Locator:     "https://contrataciones.example/" + id,
			Category:    "Estadísticas",
			ContentType: core.ContentTypeJSON,
			TargetTable: "licitacion_contrato",
		}
		payloads[id] = fmt.Sprintf(
			`{"titulo": "Licitación %d", "fecha_adjudicacion": "2024-03-15", "estado_licitacion": "adjudicada"}`, i)
	}
	return sources, extract.NewStaticFetcher(payloads)
}

func TestOpenSimulated_FullRun(t *testing.T) {
	sources, fetcher := staticCatalog(3)
	engine, err := OpenSimulated(WithCatalog(sources), WithFetcher(fetcher))
	require.NoError(t, err)
	defer engine.Close()

	assert.True(t, engine.Simulated())

	// Simulation wires the in-memory stores; there is no database handle
	// through which Postgres or pgvector could be reached.
	require.Nil(t, engine.db)
	_, ok := engine.relational.(*memory.RelationalStore)
	assert.True(t, ok)
	_, ok = engine.lookups.(*memory.LookupStore)
	assert.True(t, ok)
	_, ok = engine.vectors.(*memory.VectorStore)
	assert.True(t, ok)

	ctx := context.Background()

	result, err := engine.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.RunDone, result.State)
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Reports, 4)

	status, err := engine.Status(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, core.RunDone, status.Run.State)
	assert.Equal(t, 3, status.Committed)
	assert.Zero(t, status.Partial)
	assert.Zero(t, status.RolledBack)
	require.NotNil(t, status.Checkpoint)
	assert.Equal(t, core.StageLoading, status.Checkpoint.Stage)

	runs, err := engine.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].RunID)
	assert.True(t, runs[0].Simulate)
}

func TestEngine_ResumeUnknownRun(t *testing.T) {
	sources, fetcher := staticCatalog(1)
	engine, err := OpenSimulated(WithCatalog(sources), WithFetcher(fetcher))
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.Resume(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, core.ErrRunNotFound)
}

func TestEngine_StatusUnknownRun(t *testing.T) {
	sources, fetcher := staticCatalog(1)
	engine, err := OpenSimulated(WithCatalog(sources), WithFetcher(fetcher))
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.Status(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, core.ErrRunNotFound)
}

func TestEngine_DefaultCatalog(t *testing.T) {
	engine, err := OpenSimulated()
	require.NoError(t, err)
	defer engine.Close()

	assert.Equal(t, extract.DefaultCatalog(), engine.Catalog())
}

func TestEngine_SeparateRunsStayIsolated(t *testing.T) {
	sources, fetcher := staticCatalog(2)
	engine, err := OpenSimulated(WithCatalog(sources), WithFetcher(fetcher))
	require.NoError(t, err)
	defer engine.Close()
	ctx := context.Background()

	first, err := engine.Start(ctx)
	require.NoError(t, err)
	second, err := engine.Start(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)

	// The second run re-extracts the same content; idempotent dual writes
	// keep one outcome per document per run.
	firstStatus, err := engine.Status(ctx, first.RunID)
	require.NoError(t, err)
	secondStatus, err := engine.Status(ctx, second.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, firstStatus.Committed)
	assert.Equal(t, 2, secondStatus.Committed)
}
