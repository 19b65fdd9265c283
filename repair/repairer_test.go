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

package repair

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/finpipe/ai"
	"github.com/poiesic/finpipe/ai/mock"
	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/extract"
	"github.com/poiesic/finpipe/storage/memory"
	"github.com/poiesic/finpipe/vectorize"
)

const brokenContent = "Informe trimestral de la banca matriz con el detalle de captaciones y colocaciones del período."

type fixture struct {
	vectors *memory.VectorStore
	runs    *memory.RunStore
	rep     *Repairer
	out     *bytes.Buffer
}

func newFixture(t *testing.T, payloads map[string]string) *fixture {
	t.Helper()

	f := &fixture{
		vectors: memory.NewVectorStore(),
		runs:    memory.NewRunStore(),
		out:     &bytes.Buffer{},
	}

	extractor := extract.NewExtractor(extract.NewStaticFetcher(payloads),
		extract.WithMaxAttempts(1), extract.WithBaseDelay(time.Millisecond))
	vectorizer := vectorize.NewVectorizer(mock.NewMockEmbedder(ai.DefaultDimension), ai.DefaultDimension,
		vectorize.WithMaxAttempts(1), vectorize.WithBaseDelay(time.Millisecond))

	f.rep = NewRepairer(extractor, vectorizer, f.vectors, f.runs,
		&Config{ReportInterval: 1, MaxRetries: 1, RetryDelay: time.Millisecond}, f.out)
	return f
}

// seedPausedRun records the aftermath of a run whose loading stage left one
// partial write behind.
func (f *fixture) seedPausedRun(t *testing.T, runID string) *core.WriteOutcome {
	t.Helper()
	ctx := context.Background()

	fp := core.FingerprintFromContent([]byte(brokenContent))
	outcome := &core.WriteOutcome{
		Fingerprint:    fp,
		RelationalKeys: []core.RelationalKey{{Table: "informe_general", ID: 7}},
		Status:         core.WritePartial,
		Reason:         "vector backend unavailable",
		RecordedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.runs.SaveOutcome(ctx, runID, outcome))

	checkpoint := core.NewCheckpoint(runID)
	checkpoint.Stage = core.StageLoading
	checkpoint.MarkCompleted(core.StageLoading, "aaaa", "bbbb")
	require.NoError(t, f.runs.SaveCheckpoint(ctx, checkpoint))

	require.NoError(t, f.runs.SaveRun(ctx, &core.RunRecord{
		RunID:  runID,
		State:  core.RunPaused,
		Reason: "1 partial writes pending repair",
	}))
	return outcome
}

func sourceFor(id string) core.SourceDescriptor {
	return core.SourceDescriptor{
		SourceID:    id,
		Locator:     "https://bolsa.example/" + id,
		Category:    "Informes",
		ContentType: core.ContentTypeText,
		TargetTable: "informe_general",
	}
}

func TestRepairer_NothingToRepair(t *testing.T) {
	f := newFixture(t, nil)

	report, err := f.rep.Run(context.Background(), "run-1", []core.SourceDescriptor{sourceFor("bva-1")})
	require.NoError(t, err)

	assert.Zero(t, report.Partials)
	assert.Zero(t, report.Repaired)
	assert.Contains(t, f.out.String(), "No partial writes")
}

func TestRepairer_FlipsPartialToCommitted(t *testing.T) {
	f := newFixture(t, map[string]string{"bva-1": brokenContent})
	seeded := f.seedPausedRun(t, "run-1")
	ctx := context.Background()

	report, err := f.rep.Run(ctx, "run-1", []core.SourceDescriptor{sourceFor("bva-1")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Partials)
	assert.Equal(t, 1, report.Repaired)
	assert.Zero(t, report.Remaining)
	assert.Empty(t, report.Failed)

	outcome, err := f.runs.GetOutcome(ctx, "run-1", seeded.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.WriteCommitted, outcome.Status)
	assert.Empty(t, outcome.Reason)
	require.NotEmpty(t, outcome.VectorIDs)

	// Vectors landed under the deterministic ids with the relational keys
	// mirrored into their metadata.
	vec, ok := f.vectors.Vector(outcome.VectorIDs[0])
	require.True(t, ok)
	assert.Equal(t, "informe_general", vec.Metadata["relational_table"])
	assert.Equal(t, "7", vec.Metadata["relational_id"])

	// The repaired document counts as loaded for any later resume.
	checkpoint, err := f.runs.GetCheckpoint(ctx, "run-1")
	require.NoError(t, err)
	assert.Contains(t, checkpoint.Completed[core.StageLoading], seeded.Fingerprint)

	// Last partial cleared on a loading-stage pause: run closes out.
	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, core.RunDone, run.State)
	assert.Empty(t, run.Reason)
}

func TestRepairer_MissingSourceLeavesOutcome(t *testing.T) {
	// The source now serves different content, so no fingerprint matches.
	f := newFixture(t, map[string]string{"bva-1": "contenido nuevo"})
	seeded := f.seedPausedRun(t, "run-1")
	ctx := context.Background()

	report, err := f.rep.Run(ctx, "run-1", []core.SourceDescriptor{sourceFor("bva-1")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Partials)
	assert.Zero(t, report.Repaired)
	assert.Equal(t, 1, report.Remaining)

	outcome, err := f.runs.GetOutcome(ctx, "run-1", seeded.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.WritePartial, outcome.Status)

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, core.RunPaused, run.State)
}

func TestRepairer_UpsertFailureRecorded(t *testing.T) {
	f := newFixture(t, map[string]string{"bva-1": brokenContent})
	seeded := f.seedPausedRun(t, "run-1")
	f.vectors.UpsertFunc = func(_ context.Context, _ ...*core.EmbeddingVector) ([]string, error) {
		return nil, errors.New("still unavailable")
	}
	ctx := context.Background()

	report, err := f.rep.Run(ctx, "run-1", []core.SourceDescriptor{sourceFor("bva-1")})
	require.NoError(t, err)

	assert.Zero(t, report.Repaired)
	assert.Equal(t, 1, report.Remaining)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, seeded.Fingerprint, report.Failed[0].Fingerprint)

	var writeErr *core.WriteError
	require.ErrorAs(t, report.Failed[0].Err, &writeErr)
	assert.Equal(t, core.WritePartial, writeErr.Status)

	outcome, err := f.runs.GetOutcome(ctx, "run-1", seeded.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.WritePartial, outcome.Status)

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, core.RunPaused, run.State)
}

func TestRepairer_MidPipelinePauseStaysPaused(t *testing.T) {
	f := newFixture(t, map[string]string{"bva-1": brokenContent})
	seeded := f.seedPausedRun(t, "run-1")
	ctx := context.Background()

	// Rewind the checkpoint: the run paused before finishing loading.
	checkpoint, err := f.runs.GetCheckpoint(ctx, "run-1")
	require.NoError(t, err)
	checkpoint.Stage = core.StageProcessing
	require.NoError(t, f.runs.SaveCheckpoint(ctx, checkpoint))

	report, err := f.rep.Run(ctx, "run-1", []core.SourceDescriptor{sourceFor("bva-1")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)

	outcome, err := f.runs.GetOutcome(ctx, "run-1", seeded.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.WriteCommitted, outcome.Status)

	// The outcome is fixed but resuming the run is still the pipeline's job.
	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, core.RunPaused, run.State)
}
