package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.RunStore {
	t.Helper()
	store, err := NewMemoryRunStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir()
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestRunStore_SaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &core.RunRecord{
		RunID:     "run-1",
		State:     core.RunExtracting,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, core.RunExtracting, got.State)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestRunStore_GetRun_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunStore_ListRuns_MostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, &core.RunRecord{RunID: "run-old", State: core.RunDone}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.SaveRun(ctx, &core.RunRecord{RunID: "run-new", State: core.RunExtracting}))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].RunID)
	assert.Equal(t, "run-old", runs[1].RunID)
}

func TestRunStore_CheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	checkpoint := core.NewCheckpoint("run-1")
	checkpoint.Stage = core.StageExtraction
	checkpoint.MarkCompleted(core.StageExtraction, "aaaa", "bbbb")
	checkpoint.Attempts = 2

	require.NoError(t, store.SaveCheckpoint(ctx, checkpoint))

	got, err := store.GetCheckpoint(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, core.StageExtraction, got.Stage)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, []core.Fingerprint{"aaaa", "bbbb"}, got.Completed[core.StageExtraction])
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestRunStore_GetCheckpoint_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCheckpoint(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunStore_DeleteCheckpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCheckpoint(ctx, core.NewCheckpoint("run-1")))
	require.NoError(t, store.DeleteCheckpoint(ctx, "run-1"))

	_, err := store.GetCheckpoint(ctx, "run-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting again is not an error.
	require.NoError(t, store.DeleteCheckpoint(ctx, "run-1"))
}

func TestRunStore_OutcomeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	outcome := &core.WriteOutcome{
		Fingerprint:    "cafebabe",
		RelationalKeys: []core.RelationalKey{{Table: "noticia_relevante", ID: 7}},
		VectorIDs:      []string{"cafebabe:0", "cafebabe:1"},
		Status:         core.WriteCommitted,
	}
	require.NoError(t, store.SaveOutcome(ctx, "run-1", outcome))

	got, err := store.GetOutcome(ctx, "run-1", "cafebabe")
	require.NoError(t, err)
	assert.Equal(t, core.WriteCommitted, got.Status)
	assert.Equal(t, outcome.RelationalKeys, got.RelationalKeys)
	assert.Equal(t, outcome.VectorIDs, got.VectorIDs)
	assert.False(t, got.RecordedAt.IsZero())
}

func TestRunStore_SaveOutcome_ReplacesEarlier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveOutcome(ctx, "run-1", &core.WriteOutcome{
		Fingerprint: "cafebabe",
		Status:      core.WritePartial,
		Reason:      "vector upsert timed out",
	}))
	require.NoError(t, store.SaveOutcome(ctx, "run-1", &core.WriteOutcome{
		Fingerprint: "cafebabe",
		Status:      core.WriteCommitted,
	}))

	got, err := store.GetOutcome(ctx, "run-1", "cafebabe")
	require.NoError(t, err)
	assert.Equal(t, core.WriteCommitted, got.Status)

	partials, err := store.ListPartialOutcomes(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, partials)
}

func TestRunStore_ListPartialOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveOutcome(ctx, "run-1", &core.WriteOutcome{
		Fingerprint: "aaaa", Status: core.WriteCommitted,
	}))
	require.NoError(t, store.SaveOutcome(ctx, "run-1", &core.WriteOutcome{
		Fingerprint: "bbbb", Status: core.WritePartial, Reason: "vector store unavailable",
	}))
	require.NoError(t, store.SaveOutcome(ctx, "run-1", &core.WriteOutcome{
		Fingerprint: "cccc", Status: core.WriteRolledBack, Reason: "constraint violation",
	}))
	// Outcomes from another run must not leak in.
	require.NoError(t, store.SaveOutcome(ctx, "run-2", &core.WriteOutcome{
		Fingerprint: "dddd", Status: core.WritePartial,
	}))

	partials, err := store.ListPartialOutcomes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, partials, 1)
	assert.Equal(t, core.Fingerprint("bbbb"), partials[0].Fingerprint)

	all, err := store.ListOutcomes(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunStore_PersistsAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	store, err := NewRunStore(tmpDir)
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, &core.RunRecord{RunID: "run-1", State: core.RunPaused}))
	checkpoint := core.NewCheckpoint("run-1")
	checkpoint.MarkCompleted(core.StageExtraction, "aaaa")
	require.NoError(t, store.SaveCheckpoint(ctx, checkpoint))
	require.NoError(t, store.Close())

	reopened, err := NewRunStore(tmpDir)
	require.NoError(t, err)
	defer reopened.Close()

	run, err := reopened.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, core.RunPaused, run.State)

	got, err := reopened.GetCheckpoint(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []core.Fingerprint{"aaaa"}, got.Completed[core.StageExtraction])
}
