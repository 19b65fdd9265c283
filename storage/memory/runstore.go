package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage"
)

// RunStore is an in-memory storage.RunStore.
type RunStore struct {
	mu          sync.RWMutex
	runs        map[string]core.RunRecord
	checkpoints map[string]core.Checkpoint
	outcomes    map[string]map[core.Fingerprint]core.WriteOutcome
}

var _ storage.RunStore = (*RunStore)(nil)

// NewRunStore creates an empty in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:        make(map[string]core.RunRecord),
		checkpoints: make(map[string]core.Checkpoint),
		outcomes:    make(map[string]map[core.Fingerprint]core.WriteOutcome),
	}
}

func (s *RunStore) SaveRun(ctx context.Context, run *core.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.UpdatedAt = time.Now().UTC()
	s.runs[run.RunID] = *run
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, runID string) (*core.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &run, nil
}

func (s *RunStore) ListRuns(ctx context.Context) ([]*core.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*core.RunRecord, 0, len(s.runs))
	for id := range s.runs {
		run := s.runs[id]
		runs = append(runs, &run)
	}
	slices.SortFunc(runs, func(a, b *core.RunRecord) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return runs, nil
}

func (s *RunStore) SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	checkpoint.UpdatedAt = time.Now().UTC()
	s.checkpoints[checkpoint.RunID] = cloneCheckpoint(checkpoint)
	return nil
}

func (s *RunStore) GetCheckpoint(ctx context.Context, runID string) (*core.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checkpoint, ok := s.checkpoints[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := cloneCheckpoint(&checkpoint)
	return &clone, nil
}

func (s *RunStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, runID)
	return nil
}

func (s *RunStore) SaveOutcome(ctx context.Context, runID string, outcome *core.WriteOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now().UTC()
	}
	if s.outcomes[runID] == nil {
		s.outcomes[runID] = make(map[core.Fingerprint]core.WriteOutcome)
	}
	s.outcomes[runID][outcome.Fingerprint] = *outcome
	return nil
}

func (s *RunStore) GetOutcome(ctx context.Context, runID string, fingerprint core.Fingerprint) (*core.WriteOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcome, ok := s.outcomes[runID][fingerprint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &outcome, nil
}

func (s *RunStore) ListOutcomes(ctx context.Context, runID string) ([]*core.WriteOutcome, error) {
	return s.listOutcomes(runID, func(*core.WriteOutcome) bool { return true })
}

func (s *RunStore) ListPartialOutcomes(ctx context.Context, runID string) ([]*core.WriteOutcome, error) {
	return s.listOutcomes(runID, func(o *core.WriteOutcome) bool {
		return o.Status == core.WritePartial
	})
}

func (s *RunStore) Close() error {
	return nil
}

func (s *RunStore) listOutcomes(runID string, keep func(*core.WriteOutcome) bool) ([]*core.WriteOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var outcomes []*core.WriteOutcome
	for fp := range s.outcomes[runID] {
		outcome := s.outcomes[runID][fp]
		if keep(&outcome) {
			outcomes = append(outcomes, &outcome)
		}
	}
	slices.SortFunc(outcomes, func(a, b *core.WriteOutcome) int {
		return strings.Compare(string(a.Fingerprint), string(b.Fingerprint))
	})
	return outcomes, nil
}

func cloneCheckpoint(checkpoint *core.Checkpoint) core.Checkpoint {
	clone := *checkpoint
	clone.Completed = make(map[core.Stage][]core.Fingerprint, len(checkpoint.Completed))
	for stage, fps := range checkpoint.Completed {
		clone.Completed[stage] = slices.Clone(fps)
	}
	return clone
}
