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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/dualwrite"
	"github.com/poiesic/finpipe/extract"
	"github.com/poiesic/finpipe/mapping"
	"github.com/poiesic/finpipe/storage"
	"github.com/poiesic/finpipe/vectorize"
)

// DefaultFailureThreshold pauses a run when more than half of a stage's
// attempted items fail.
const DefaultFailureThreshold = 0.5

// Coordinator drives pipeline runs through the stage state machine.
type Coordinator struct {
	extractor  *extract.Extractor
	mapper     *mapping.Mapper
	vectorizer *vectorize.Vectorizer
	writer     *dualwrite.Writer
	runs       storage.RunStore
	runner     *Runner
	monitor    RunMonitor
	threshold  float64
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithFailureThreshold sets the stage failure rate above which a run
// pauses instead of continuing to the next stage.
func WithFailureThreshold(rate float64) Option {
	return func(c *Coordinator) error {
		if rate <= 0 || rate > 1 {
			return fmt.Errorf("failure threshold must be in (0, 1], got %v", rate)
		}
		c.threshold = rate
		return nil
	}
}

// WithMonitor sets the run monitor.
func WithMonitor(monitor RunMonitor) Option {
	return func(c *Coordinator) error {
		if monitor == nil {
			monitor = &noopMonitor{}
		}
		c.monitor = monitor
		return nil
	}
}

// WithRunner replaces the default stage runner.
func WithRunner(runner *Runner) Option {
	return func(c *Coordinator) error {
		c.runner = runner
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewCoordinator creates a pipeline coordinator.
func NewCoordinator(
	extractor *extract.Extractor,
	mapper *mapping.Mapper,
	vectorizer *vectorize.Vectorizer,
	writer *dualwrite.Writer,
	runs storage.RunStore,
	opts ...Option,
) (*Coordinator, error) {
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if mapper == nil {
		return nil, ErrMapperRequired
	}
	if vectorizer == nil {
		return nil, ErrVectorizerRequired
	}
	if writer == nil {
		return nil, ErrWriterRequired
	}
	if runs == nil {
		return nil, ErrRunStoreRequired
	}

	c := &Coordinator{
		extractor:  extractor,
		mapper:     mapper,
		vectorizer: vectorizer,
		writer:     writer,
		runs:       runs,
		runner:     NewRunner(),
		monitor:    &noopMonitor{},
		threshold:  DefaultFailureThreshold,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RunResult summarizes one coordinator run: the terminal state it reached
// and the per-stage reports in execution order.
type RunResult struct {
	RunID   string
	State   core.RunState
	Reports []*core.StageReport
}

// workItem carries one document's artifacts between stages.
type workItem struct {
	source  core.SourceDescriptor
	doc     *core.ExtractedDocument
	drafts  []*core.RecordDraft
	vectors []*core.EmbeddingVector
}

type stageVerdict int

const (
	stageContinue stageVerdict = iota
	stagePaused
	stageFailed
)

// Run executes (or resumes) the run identified by runID over the given
// sources. A new run starts at extraction; a resumed run re-derives
// intermediate artifacts but never re-loads documents whose dual-store
// write already committed, so finished work is reported as skipped rather
// than redone.
//
// The returned result always reflects the state the run reached; the error
// is non-nil only for infrastructure or fatal configuration failures, not
// for an orderly pause.
func (c *Coordinator) Run(ctx context.Context, runID string, sources []core.SourceDescriptor, simulate bool) (*RunResult, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	checkpoint, run, err := c.loadRunState(ctx, runID, simulate)
	if err != nil {
		return nil, err
	}
	checkpoint.Attempts++

	result := &RunResult{RunID: runID}
	c.monitor.Start(runID, len(sources))
	c.logger.Info("run starting",
		slog.String("run_id", runID),
		slog.Int("sources", len(sources)),
		slog.Int("attempt", checkpoint.Attempts),
		slog.Bool("simulate", simulate))

	items, verdict, err := c.extractionStage(ctx, run, checkpoint, sources, result)
	if verdict != stageContinue || err != nil {
		return c.conclude(result, run, verdict, err)
	}

	loaded := checkpoint.CompletedSet(core.StageLoading)

	verdict, err = c.processingStage(ctx, run, checkpoint, items, loaded, result)
	if verdict != stageContinue || err != nil {
		return c.conclude(result, run, verdict, err)
	}

	verdict, err = c.vectorizationStage(ctx, run, checkpoint, items, loaded, result)
	if verdict != stageContinue || err != nil {
		return c.conclude(result, run, verdict, err)
	}

	verdict, err = c.loadingStage(ctx, run, checkpoint, items, loaded, result)
	if verdict != stageContinue || err != nil {
		return c.conclude(result, run, verdict, err)
	}

	return c.finishRun(ctx, result, run)
}

func (c *Coordinator) loadRunState(ctx context.Context, runID string, simulate bool) (*core.Checkpoint, *core.RunRecord, error) {
	checkpoint, err := c.runs.GetCheckpoint(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		checkpoint = core.NewCheckpoint(runID)
	} else if err != nil {
		return nil, nil, err
	}

	run, err := c.runs.GetRun(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		run = &core.RunRecord{
			RunID:     runID,
			Simulate:  simulate,
			StartedAt: time.Now().UTC(),
		}
	} else if err != nil {
		return nil, nil, err
	}
	if run.State == core.RunDone {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunFinished, runID)
	}
	return checkpoint, run, nil
}

func (c *Coordinator) extractionStage(ctx context.Context, run *core.RunRecord, checkpoint *core.Checkpoint, sources []core.SourceDescriptor, result *RunResult) ([]*workItem, stageVerdict, error) {
	if err := c.setState(ctx, run, core.RunExtracting); err != nil {
		return nil, stageFailed, err
	}

	tasks := make([]Task, len(sources))
	for i, src := range sources {
		tasks[i] = Task{SourceID: src.SourceID}
	}
	c.monitor.StageStart(core.StageExtraction, len(tasks))

	slots := make([]*workItem, len(sources))
	report, err := c.runner.Run(ctx, core.StageExtraction, tasks, nil, func(ctx context.Context, index int) (core.Fingerprint, error) {
		doc, extractErr := c.extractor.Extract(ctx, sources[index])
		if extractErr != nil {
			return "", extractErr
		}
		slots[index] = &workItem{source: sources[index], doc: doc}
		return doc.Fingerprint, nil
	})
	if err != nil {
		return nil, stageFailed, err
	}

	// Two sources can serve byte-identical content; fingerprints collapse
	// them into one work item downstream.
	var items []*workItem
	seen := make(map[core.Fingerprint]struct{})
	for _, item := range slots {
		if item == nil {
			continue
		}
		if _, dup := seen[item.doc.Fingerprint]; dup {
			continue
		}
		seen[item.doc.Fingerprint] = struct{}{}
		items = append(items, item)
	}

	verdict, err := c.finishStage(ctx, run, checkpoint, report, result)
	return items, verdict, err
}

func (c *Coordinator) processingStage(ctx context.Context, run *core.RunRecord, checkpoint *core.Checkpoint, items []*workItem, loaded map[core.Fingerprint]struct{}, result *RunResult) (stageVerdict, error) {
	if err := c.setState(ctx, run, core.RunProcessing); err != nil {
		return stageFailed, err
	}

	tasks := itemTasks(items)
	c.monitor.StageStart(core.StageProcessing, len(tasks))

	report, err := c.runner.Run(ctx, core.StageProcessing, tasks, loaded, func(ctx context.Context, index int) (core.Fingerprint, error) {
		item := items[index]
		drafts, mapErr := c.mapper.Map(ctx, item.doc)
		if mapErr != nil {
			return item.doc.Fingerprint, mapErr
		}
		item.drafts = drafts
		return item.doc.Fingerprint, nil
	})
	if err != nil {
		return stageFailed, err
	}
	return c.finishStage(ctx, run, checkpoint, report, result)
}

func (c *Coordinator) vectorizationStage(ctx context.Context, run *core.RunRecord, checkpoint *core.Checkpoint, items []*workItem, loaded map[core.Fingerprint]struct{}, result *RunResult) (stageVerdict, error) {
	if err := c.setState(ctx, run, core.RunVectorizing); err != nil {
		return stageFailed, err
	}

	ready := itemsWithDrafts(items, loaded)
	tasks := itemTasks(ready)
	c.monitor.StageStart(core.StageVectorization, len(tasks))

	report, err := c.runner.Run(ctx, core.StageVectorization, tasks, loaded, func(ctx context.Context, index int) (core.Fingerprint, error) {
		item := ready[index]
		vectors, vecErr := c.vectorizer.Vectorize(ctx, item.doc, identifyingMetadata(item.drafts))
		if vecErr != nil {
			return item.doc.Fingerprint, vecErr
		}
		item.vectors = vectors
		return item.doc.Fingerprint, nil
	})
	if err != nil {
		return stageFailed, err
	}
	return c.finishStage(ctx, run, checkpoint, report, result)
}

func (c *Coordinator) loadingStage(ctx context.Context, run *core.RunRecord, checkpoint *core.Checkpoint, items []*workItem, loaded map[core.Fingerprint]struct{}, result *RunResult) (stageVerdict, error) {
	if err := c.setState(ctx, run, core.RunLoading); err != nil {
		return stageFailed, err
	}

	ready := itemsWithVectors(items, loaded)
	tasks := itemTasks(ready)
	c.monitor.StageStart(core.StageLoading, len(tasks))

	report, err := c.runner.Run(ctx, core.StageLoading, tasks, loaded, func(ctx context.Context, index int) (core.Fingerprint, error) {
		item := ready[index]
		unit := &dualwrite.Unit{
			Fingerprint: item.doc.Fingerprint,
			Drafts:      item.drafts,
			Vectors:     item.vectors,
		}
		outcome, writeErr := c.writer.Write(ctx, unit)
		if outcome == nil {
			return item.doc.Fingerprint, writeErr
		}
		if saveErr := c.runs.SaveOutcome(ctx, run.RunID, outcome); saveErr != nil {
			c.logger.Error("failed to record write outcome",
				slog.String("fingerprint", string(unit.Fingerprint)),
				slog.Any("err", saveErr))
		}
		return item.doc.Fingerprint, writeErr
	})
	if err != nil {
		return stageFailed, err
	}
	return c.finishStage(ctx, run, checkpoint, report, result)
}

// finishStage is the common epilogue: completions are checkpointed, the
// checkpoint persisted, failures surfaced to the monitor, and the verdict
// decided: fatal configuration error, cancellation, threshold pause, or
// continue.
func (c *Coordinator) finishStage(ctx context.Context, run *core.RunRecord, checkpoint *core.Checkpoint, report *core.StageReport, result *RunResult) (stageVerdict, error) {
	result.Reports = append(result.Reports, report)

	checkpoint.MarkCompleted(report.Stage, report.Succeeded...)
	checkpoint.Stage = report.Stage
	if err := c.runs.SaveCheckpoint(ctx, checkpoint); err != nil {
		return stageFailed, err
	}

	for _, failure := range report.Failed {
		c.monitor.ItemFailed(report.Stage, failure)
		if errors.Is(failure.Err, core.ErrDimensionMismatch) {
			run.Reason = failure.Reason()
			if err := c.setState(ctx, run, core.RunFailed); err != nil {
				return stageFailed, err
			}
			return stageFailed, failure.Err
		}
	}
	c.monitor.StageFinish(report.Stage, report)

	if ctx.Err() != nil {
		run.Reason = "canceled"
		if err := c.setState(ctx, run, core.RunPaused); err != nil {
			return stageFailed, err
		}
		return stagePaused, nil
	}

	if rate := report.FailureRate(); rate > c.threshold {
		c.monitor.Paused(report.Stage, rate)
		run.Reason = fmt.Sprintf("stage %s failure rate %.2f exceeds threshold %.2f",
			report.Stage, rate, c.threshold)
		if err := c.setState(ctx, run, core.RunPaused); err != nil {
			return stageFailed, err
		}
		return stagePaused, nil
	}
	return stageContinue, nil
}

// finishRun decides the terminal state after loading: DONE only when no
// partial outcome remains on the books.
func (c *Coordinator) finishRun(ctx context.Context, result *RunResult, run *core.RunRecord) (*RunResult, error) {
	partials, err := c.runs.ListPartialOutcomes(ctx, run.RunID)
	if err != nil {
		return nil, err
	}

	if len(partials) > 0 {
		run.Reason = fmt.Sprintf("%d partial writes pending repair", len(partials))
		if err := c.setState(ctx, run, core.RunPaused); err != nil {
			return nil, err
		}
	} else {
		run.Reason = ""
		if err := c.setState(ctx, run, core.RunDone); err != nil {
			return nil, err
		}
	}

	result.State = run.State
	c.monitor.Finish(run.RunID, run.State)
	c.logger.Info("run finished",
		slog.String("run_id", run.RunID),
		slog.String("state", run.State.String()))
	return result, nil
}

// conclude finalizes a run that paused or failed before the last stage.
func (c *Coordinator) conclude(result *RunResult, run *core.RunRecord, verdict stageVerdict, err error) (*RunResult, error) {
	result.State = run.State
	c.monitor.Finish(run.RunID, run.State)
	if verdict == stageFailed && err == nil {
		err = fmt.Errorf("run %s failed: %s", run.RunID, run.Reason)
	}
	if verdict == stagePaused {
		return result, nil
	}
	return result, err
}

func (c *Coordinator) setState(ctx context.Context, run *core.RunRecord, state core.RunState) error {
	run.State = state
	return c.runs.SaveRun(ctx, run)
}

func itemTasks(items []*workItem) []Task {
	tasks := make([]Task, len(items))
	for i, item := range items {
		tasks[i] = Task{Fingerprint: item.doc.Fingerprint, SourceID: item.source.SourceID}
	}
	return tasks
}

// itemsWithDrafts keeps items that can proceed: either the previous stage
// produced drafts, or the item already committed in a prior attempt and
// will be skipped by the runner.
func itemsWithDrafts(items []*workItem, loaded map[core.Fingerprint]struct{}) []*workItem {
	var ready []*workItem
	for _, item := range items {
		_, done := loaded[item.doc.Fingerprint]
		if len(item.drafts) > 0 || done {
			ready = append(ready, item)
		}
	}
	return ready
}

func itemsWithVectors(items []*workItem, loaded map[core.Fingerprint]struct{}) []*workItem {
	var ready []*workItem
	for _, item := range items {
		_, done := loaded[item.doc.Fingerprint]
		if (len(item.drafts) > 0 && item.vectors != nil) || done {
			ready = append(ready, item)
		}
	}
	return ready
}

// identifyingMetadata mirrors the identifying scalar columns of a
// document's primary draft for vector metadata. Foreign keys mirror their
// natural key, not the surrogate id, so vector hits stay readable without
// a lookup join.
func identifyingMetadata(drafts []*core.RecordDraft) map[string]string {
	if len(drafts) == 0 {
		return nil
	}
	draft := drafts[0]
	specs, ok := core.RequiredFields(draft.TargetTable)
	if !ok {
		return nil
	}

	meta := make(map[string]string)
	for _, spec := range specs {
		if spec.Kind == core.FieldRef {
			if ref, found := draft.LookupFor(spec.Dimension); found {
				meta[spec.Dimension] = ref.NaturalKey
			}
			continue
		}
		if value, present := draft.Fields[spec.Name]; present && value != nil {
			meta[spec.Name] = fmt.Sprintf("%v", value)
		}
	}
	return meta
}
