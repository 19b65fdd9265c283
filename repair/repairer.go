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
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/dualwrite"
	"github.com/poiesic/finpipe/extract"
	"github.com/poiesic/finpipe/storage"
	"github.com/poiesic/finpipe/vectorize"
)

// Config holds configuration for a repair sweep.
type Config struct {
	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxRetries is the maximum number of retry attempts for the vector upsert
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReportInterval: 10,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Repairer sweeps the partial write outcomes of a run and restores
// dual-store consistency document by document.
type Repairer struct {
	extractor  *extract.Extractor
	vectorizer *vectorize.Vectorizer
	vectors    storage.VectorStore
	runs       storage.RunStore
	config     *Config
	progress   io.Writer
}

// NewRepairer creates a repairer.
// progress: where to write progress output (typically os.Stderr)
func NewRepairer(
	extractor *extract.Extractor,
	vectorizer *vectorize.Vectorizer,
	vectors storage.VectorStore,
	runs storage.RunStore,
	config *Config,
	progress io.Writer,
) *Repairer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Repairer{
		extractor:  extractor,
		vectorizer: vectorizer,
		vectors:    vectors,
		runs:       runs,
		config:     config,
		progress:   progress,
	}
}

// Report summarizes one repair sweep.
type Report struct {
	// Partials is how many partial outcomes the run had on the books.
	Partials int

	// Repaired is how many were flipped to committed.
	Repaired int

	// Failed records per-document repair failures.
	Failed []core.ItemFailure

	// Remaining is how many partial outcomes still stand after the sweep,
	// including documents whose source content could not be located.
	Remaining int
}

// Run repairs every partial write recorded for runID. The sources are
// re-fetched to recover the raw content the missing vectors derive from;
// content is matched to outcomes by fingerprint, so moved or changed
// sources simply leave their outcome untouched for a later sweep.
//
// When the sweep clears the last partial outcome of a run that paused at
// the loading stage, the run is marked done.
func (r *Repairer) Run(ctx context.Context, runID string, sources []core.SourceDescriptor) (*Report, error) {
	partials, err := r.runs.ListPartialOutcomes(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list partial outcomes: %w", err)
	}

	report := &Report{Partials: len(partials)}
	if len(partials) == 0 {
		fmt.Fprintf(r.progress, "No partial writes recorded for run %s\n", runID)
		return report, nil
	}

	pending := make(map[core.Fingerprint]*core.WriteOutcome, len(partials))
	for _, outcome := range partials {
		pending[outcome.Fingerprint] = outcome
	}

	fmt.Fprintf(r.progress, "Repairing %d partial writes for run %s\n", len(partials), runID)
	tracker := NewProgressTracker(r.progress, len(partials), r.config.ReportInterval)
	tracker.Start()

	var repaired []core.Fingerprint
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		if len(pending) == 0 {
			break
		}

		doc, extractErr := r.extractor.Extract(ctx, src)
		if extractErr != nil {
			continue
		}
		outcome, needed := pending[doc.Fingerprint]
		if !needed {
			continue
		}

		if repairErr := r.repairOne(ctx, runID, outcome, doc); repairErr != nil {
			report.Failed = append(report.Failed, core.ItemFailure{
				Fingerprint: doc.Fingerprint,
				SourceID:    src.SourceID,
				Err:         repairErr,
			})
			delete(pending, doc.Fingerprint)
			continue
		}

		repaired = append(repaired, doc.Fingerprint)
		delete(pending, doc.Fingerprint)
		tracker.Increment(1)
	}

	report.Repaired = len(repaired)
	report.Remaining = report.Partials - report.Repaired
	tracker.Finish()

	if len(repaired) > 0 {
		if err := r.markRepaired(ctx, runID, repaired); err != nil {
			return report, err
		}
	}

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Repair complete. Fixed %d of %d partial writes in %v, %d remaining\n",
		report.Repaired, report.Partials, elapsed.Round(time.Second), report.Remaining)

	if report.Remaining == 0 {
		if err := r.closeOutRun(ctx, runID); err != nil {
			return report, err
		}
	}
	return report, nil
}

// repairOne rebuilds the vector half of one partial write and flips its
// outcome to committed. The relational half is already durable; the
// relational keys recorded on the outcome are mirrored into the new
// vectors' metadata exactly as the original write would have done.
func (r *Repairer) repairOne(ctx context.Context, runID string, outcome *core.WriteOutcome, doc *core.ExtractedDocument) error {
	vectors, err := r.vectorizer.Vectorize(ctx, doc, nil)
	if err != nil {
		return err
	}
	dualwrite.MirrorKeys(vectors, outcome.RelationalKeys)

	var vectorIDs []string
	err = core.RetryWithBackoff(ctx, func() error {
		ids, upsertErr := r.vectors.UpsertVectors(ctx, vectors...)
		if upsertErr != nil {
			return upsertErr
		}
		vectorIDs = ids
		return nil
	}, r.config.MaxRetries, r.config.RetryDelay)
	if err != nil {
		return &core.WriteError{Fingerprint: outcome.Fingerprint, Status: core.WritePartial, Err: err}
	}

	outcome.Status = core.WriteCommitted
	outcome.VectorIDs = vectorIDs
	outcome.Reason = ""
	outcome.RecordedAt = time.Now().UTC()
	return r.runs.SaveOutcome(ctx, runID, outcome)
}

// markRepaired records the repaired documents as loading-complete so a
// later resume of the run skips them.
func (r *Repairer) markRepaired(ctx context.Context, runID string, repaired []core.Fingerprint) error {
	checkpoint, err := r.runs.GetCheckpoint(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		checkpoint = core.NewCheckpoint(runID)
	} else if err != nil {
		return err
	}
	checkpoint.MarkCompleted(core.StageLoading, repaired...)
	return r.runs.SaveCheckpoint(ctx, checkpoint)
}

// closeOutRun marks a run done when the sweep cleared its last partial
// write and the run had already finished its loading stage. A run paused
// mid-pipeline for other reasons stays paused; resume owns that path.
func (r *Repairer) closeOutRun(ctx context.Context, runID string) error {
	run, err := r.runs.GetRun(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if run.State != core.RunPaused {
		return nil
	}

	checkpoint, err := r.runs.GetCheckpoint(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if checkpoint.Stage != core.StageLoading {
		return nil
	}

	run.State = core.RunDone
	run.Reason = ""
	return r.runs.SaveRun(ctx, run)
}
