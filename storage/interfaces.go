package storage

import (
	"context"

	"github.com/poiesic/finpipe/core"
)

// RelationalStore persists structured fact records. Implementations must be
// thread-safe and support concurrent access.
type RelationalStore interface {
	// UpsertRecords writes one or more record drafts atomically: either every
	// draft lands or none does. Records are keyed by content fingerprint, so
	// writing the same drafts again updates in place rather than duplicating.
	// Returns the relational keys in draft order.
	UpsertRecords(ctx context.Context, drafts ...*core.RecordDraft) ([]core.RelationalKey, error)

	// Close closes the store and releases resources.
	Close() error
}

// LookupStore resolves dimension natural keys to stable surrogate ids.
type LookupStore interface {
	// FindLookup returns the surrogate id for a dimension entry.
	// Returns ErrNotFound if no entry exists.
	FindLookup(ctx context.Context, dimension, naturalKey string) (int64, error)

	// GetOrCreateLookup finds or creates a dimension entry and returns its
	// surrogate id. Concurrent creation attempts for the same key must
	// converge on a single id; entries are never updated or deleted once
	// created.
	GetOrCreateLookup(ctx context.Context, dimension, naturalKey string) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}

// VectorStore persists chunk embeddings under deterministic ids derived from
// the document fingerprint and chunk index.
type VectorStore interface {
	// UpsertVectors writes embeddings, overwriting any existing vector with
	// the same id. Returns the vector ids in input order.
	UpsertVectors(ctx context.Context, vectors ...*core.EmbeddingVector) ([]string, error)

	// CountVectors returns the number of stored vectors for a fingerprint.
	CountVectors(ctx context.Context, fingerprint core.Fingerprint) (int, error)

	// DeleteVectors removes every vector stored for a fingerprint. Deleting
	// a fingerprint with no vectors is not an error.
	DeleteVectors(ctx context.Context, fingerprint core.Fingerprint) error

	// Close closes the store and releases resources.
	Close() error
}

// RunRepository provides operations for persisted run records.
type RunRepository interface {
	// SaveRun inserts or updates a run record, refreshing UpdatedAt.
	SaveRun(ctx context.Context, run *core.RunRecord) error

	// GetRun retrieves a run record by id.
	// Returns ErrNotFound if the run doesn't exist.
	GetRun(ctx context.Context, runID string) (*core.RunRecord, error)

	// ListRuns retrieves all run records, most recently updated first.
	ListRuns(ctx context.Context) ([]*core.RunRecord, error)
}

// CheckpointRepository provides operations for run checkpoints.
type CheckpointRepository interface {
	// SaveCheckpoint persists a checkpoint, replacing any previous one for
	// the same run.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// GetCheckpoint retrieves the checkpoint for a run.
	// Returns ErrNotFound if no checkpoint exists.
	GetCheckpoint(ctx context.Context, runID string) (*core.Checkpoint, error)

	// DeleteCheckpoint removes the checkpoint for a run. Deleting a missing
	// checkpoint is not an error.
	DeleteCheckpoint(ctx context.Context, runID string) error
}

// OutcomeRepository provides operations for dual-store write outcomes.
type OutcomeRepository interface {
	// SaveOutcome records the outcome of one dual-store write, replacing any
	// earlier outcome for the same fingerprint within the run.
	SaveOutcome(ctx context.Context, runID string, outcome *core.WriteOutcome) error

	// GetOutcome retrieves the recorded outcome for a fingerprint.
	// Returns ErrNotFound if none was recorded.
	GetOutcome(ctx context.Context, runID string, fingerprint core.Fingerprint) (*core.WriteOutcome, error)

	// ListOutcomes retrieves every outcome recorded for a run.
	ListOutcomes(ctx context.Context, runID string) ([]*core.WriteOutcome, error)

	// ListPartialOutcomes retrieves the outcomes still in the partial state,
	// the work queue for repair.
	ListPartialOutcomes(ctx context.Context, runID string) ([]*core.WriteOutcome, error)
}

// RunStore combines run bookkeeping: run records, checkpoints, and write
// outcomes, typically backed by a single embedded database.
type RunStore interface {
	RunRepository
	CheckpointRepository
	OutcomeRepository

	// Close closes the store and releases resources.
	Close() error
}
