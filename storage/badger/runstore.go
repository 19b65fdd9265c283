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


package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage"
)

// RunStore implements storage.RunStore for BadgerDB: run records,
// checkpoints, and write outcomes under one embedded database.
type RunStore struct {
	backend *Backend
}

var _ storage.RunStore = (*RunStore)(nil)

// NewRunStore opens a run store at the given path.
func NewRunStore(path string) (storage.RunStore, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return &RunStore{backend: backend}, nil
}

// NewRunStoreWithBackend creates a run store over an existing backend. The
// store takes ownership; Close closes the backend.
func NewRunStoreWithBackend(backend *Backend) storage.RunStore {
	return &RunStore{backend: backend}
}

func (s *RunStore) SaveRun(ctx context.Context, run *core.RunRecord) error {
	run.UpdatedAt = time.Now().UTC()
	return s.setJSON(makeRunKey(run.RunID), run)
}

func (s *RunStore) GetRun(ctx context.Context, runID string) (*core.RunRecord, error) {
	var run core.RunRecord
	if err := s.getJSON(makeRunKey(runID), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *RunStore) ListRuns(ctx context.Context) ([]*core.RunRecord, error) {
	var runs []*core.RunRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runRecordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var run core.RunRecord
			err := iter.Item().Value(func(val []byte) error {
				return unmarshalJSON(val, &run)
			})
			if err != nil {
				return err
			}
			runs = append(runs, &run)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(runs, func(a, b *core.RunRecord) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return runs, nil
}

func (s *RunStore) SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	checkpoint.UpdatedAt = time.Now().UTC()
	return s.setJSON(makeCheckpointKey(checkpoint.RunID), checkpoint)
}

func (s *RunStore) GetCheckpoint(ctx context.Context, runID string) (*core.Checkpoint, error) {
	var checkpoint core.Checkpoint
	if err := s.getJSON(makeCheckpointKey(runID), &checkpoint); err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

func (s *RunStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeCheckpointKey(runID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

func (s *RunStore) SaveOutcome(ctx context.Context, runID string, outcome *core.WriteOutcome) error {
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now().UTC()
	}
	return s.setJSON(makeOutcomeKey(runID, outcome.Fingerprint), outcome)
}

func (s *RunStore) GetOutcome(ctx context.Context, runID string, fingerprint core.Fingerprint) (*core.WriteOutcome, error) {
	var outcome core.WriteOutcome
	if err := s.getJSON(makeOutcomeKey(runID, fingerprint), &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (s *RunStore) ListOutcomes(ctx context.Context, runID string) ([]*core.WriteOutcome, error) {
	return s.scanOutcomes(runID, func(*core.WriteOutcome) bool { return true })
}

func (s *RunStore) ListPartialOutcomes(ctx context.Context, runID string) ([]*core.WriteOutcome, error) {
	return s.scanOutcomes(runID, func(o *core.WriteOutcome) bool {
		return o.Status == core.WritePartial
	})
}

func (s *RunStore) Close() error {
	return s.backend.Close()
}

func (s *RunStore) scanOutcomes(runID string, keep func(*core.WriteOutcome) bool) ([]*core.WriteOutcome, error) {
	var outcomes []*core.WriteOutcome
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeOutcomeScanPrefix(runID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var outcome core.WriteOutcome
			err := iter.Item().Value(func(val []byte) error {
				return unmarshalJSON(val, &outcome)
			})
			if err != nil {
				return err
			}
			if keep(&outcome) {
				outcomes = append(outcomes, &outcome)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *RunStore) setJSON(key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, data); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

func (s *RunStore) getJSON(key []byte, out any) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return unmarshalJSON(val, out)
		})
	}, false)
}

func unmarshalJSON(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return nil
}
