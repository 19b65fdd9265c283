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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/poiesic/finpipe/ai"
	"github.com/poiesic/finpipe/ai/mock"
	"github.com/poiesic/finpipe/ai/openai"
	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/dualwrite"
	"github.com/poiesic/finpipe/extract"
	"github.com/poiesic/finpipe/mapping"
	"github.com/poiesic/finpipe/pipeline"
	"github.com/poiesic/finpipe/repair"
	"github.com/poiesic/finpipe/resolve"
	"github.com/poiesic/finpipe/storage"
	"github.com/poiesic/finpipe/storage/badger"
	"github.com/poiesic/finpipe/storage/memory"
	"github.com/poiesic/finpipe/storage/pgvector"
	"github.com/poiesic/finpipe/storage/postgres"
	"github.com/poiesic/finpipe/vectorize"
)

// Engine ties the stores, the AI provider, and the source catalog together
// behind one handle. It is the entry point for embedding the pipeline in a
// program; the CLI is a thin wrapper over it.
type Engine struct {
	db         *sqlx.DB
	relational storage.RelationalStore
	lookups    storage.LookupStore
	vectors    storage.VectorStore
	runs       storage.RunStore
	provider   ai.Provider
	fetcher    extract.Fetcher
	catalog    []core.SourceDescriptor
	monitor    pipeline.RunMonitor
	dimension  int
	threshold  float64
	poolSize   int
	simulate   bool
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	aiConfig  *ai.Config
	catalog   []core.SourceDescriptor
	fetcher   extract.Fetcher
	monitor   pipeline.RunMonitor
	threshold float64
	poolSize  int
}

// WithAIConfig sets the AI provider configuration.
func WithAIConfig(config *ai.Config) EngineOption {
	return func(o *engineOptions) {
		o.aiConfig = config
	}
}

// WithCatalog replaces the built-in source catalog.
func WithCatalog(sources []core.SourceDescriptor) EngineOption {
	return func(o *engineOptions) {
		o.catalog = sources
	}
}

// WithFetcher replaces the HTTP fetcher, e.g. with a static one in tests.
func WithFetcher(fetcher extract.Fetcher) EngineOption {
	return func(o *engineOptions) {
		o.fetcher = fetcher
	}
}

// WithMonitor observes runs through the given monitor, e.g. for CLI
// progress output.
func WithMonitor(monitor pipeline.RunMonitor) EngineOption {
	return func(o *engineOptions) {
		o.monitor = monitor
	}
}

// WithFailureThreshold sets the stage failure rate that pauses a run.
func WithFailureThreshold(rate float64) EngineOption {
	return func(o *engineOptions) {
		o.threshold = rate
	}
}

// WithPoolSize sets the stage worker pool size.
func WithPoolSize(size int) EngineOption {
	return func(o *engineOptions) {
		o.poolSize = size
	}
}

func newEngineOptions(opts ...EngineOption) *engineOptions {
	options := &engineOptions{
		aiConfig: ai.DefaultConfig(),
		catalog:  extract.DefaultCatalog(),
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Open connects the engine to its production stores: Postgres for the
// structured and vector halves, an embedded run store for checkpoints and
// outcomes, and an OpenAI-compatible provider for embeddings and field
// extraction. The relational schema and the vector collection are created
// if missing.
func Open(ctx context.Context, databaseURL, runStorePath string, opts ...EngineOption) (*Engine, error) {
	options := newEngineOptions(opts...)
	if err := options.aiConfig.Validate(); err != nil {
		return nil, err
	}

	db, err := postgres.Connect(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := pgvector.EnsureSchema(ctx, db, options.aiConfig.Dimension); err != nil {
		db.Close()
		return nil, err
	}

	runs, err := badger.NewRunStore(runStorePath)
	if err != nil {
		db.Close()
		return nil, err
	}

	provider, err := openai.NewProvider(options.aiConfig)
	if err != nil {
		runs.Close()
		db.Close()
		return nil, err
	}

	fetcher := options.fetcher
	if fetcher == nil {
		fetcher = extract.NewHTTPFetcher()
	}

	return &Engine{
		db:         db,
		relational: postgres.NewRelationalStore(db),
		lookups:    postgres.NewLookupStore(db),
		vectors:    pgvector.NewVectorStore(db),
		runs:       runs,
		provider:   provider,
		fetcher:    fetcher,
		catalog:    options.catalog,
		monitor:    options.monitor,
		dimension:  options.aiConfig.Dimension,
		threshold:  options.threshold,
		poolSize:   options.poolSize,
		logger:     slog.Default(),
	}, nil
}

// OpenSimulated builds a fully in-memory engine: memory-backed stores, an
// in-memory run store, and a deterministic mock provider. Runs exercise the
// complete pipeline control flow without touching Postgres or an AI
// service, which is what simulation mode is for.
func OpenSimulated(opts ...EngineOption) (*Engine, error) {
	options := newEngineOptions(opts...)

	runs, err := badger.NewMemoryRunStore()
	if err != nil {
		return nil, err
	}

	fetcher := options.fetcher
	if fetcher == nil {
		fetcher = extract.NewHTTPFetcher()
	}

	return &Engine{
		relational: memory.NewRelationalStore(),
		lookups:    memory.NewLookupStore(),
		vectors:    memory.NewVectorStore(),
		runs:       runs,
		provider:   mock.NewMockProvider(options.aiConfig.Dimension),
		fetcher:    fetcher,
		catalog:    options.catalog,
		monitor:    options.monitor,
		dimension:  options.aiConfig.Dimension,
		threshold:  options.threshold,
		poolSize:   options.poolSize,
		simulate:   true,
		logger:     slog.Default(),
	}, nil
}

// Close releases every resource the engine holds.
func (e *Engine) Close() error {
	if err := e.provider.Close(); err != nil {
		e.logger.Error("error closing AI provider", "err", err)
	}
	if err := e.runs.Close(); err != nil {
		e.logger.Error("error closing run store", "err", err)
		return err
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Error("error closing database", "err", err)
			return err
		}
	}
	return nil
}

// Simulated reports whether the engine writes to in-memory sinks.
func (e *Engine) Simulated() bool {
	return e.simulate
}

// Catalog returns the source catalog runs are fed from.
func (e *Engine) Catalog() []core.SourceDescriptor {
	return e.catalog
}

// RunStore exposes the run bookkeeping store.
func (e *Engine) RunStore() storage.RunStore {
	return e.runs
}

// Start begins a new run with a fresh id over the engine's catalog and
// returns its result.
func (e *Engine) Start(ctx context.Context) (*pipeline.RunResult, error) {
	coordinator, err := e.newCoordinator()
	if err != nil {
		return nil, err
	}
	return coordinator.Run(ctx, uuid.NewString(), e.catalog, e.simulate)
}

// Resume continues a previously started run under its existing checkpoint.
// Documents whose dual-store write already committed are skipped.
func (e *Engine) Resume(ctx context.Context, runID string) (*pipeline.RunResult, error) {
	if _, err := e.runs.GetRun(ctx, runID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
		}
		return nil, err
	}
	coordinator, err := e.newCoordinator()
	if err != nil {
		return nil, err
	}
	return coordinator.Run(ctx, runID, e.catalog, e.simulate)
}

// Repair sweeps a run's partial writes and restores dual-store consistency.
// progress: where to write progress output (typically os.Stderr)
func (e *Engine) Repair(ctx context.Context, runID string, config *repair.Config, progress io.Writer) (*repair.Report, error) {
	if _, err := e.runs.GetRun(ctx, runID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
		}
		return nil, err
	}
	repairer := repair.NewRepairer(
		extract.NewExtractor(e.fetcher),
		vectorize.NewVectorizer(e.provider.Embedder(), e.dimension),
		e.vectors,
		e.runs,
		config,
		progress,
	)
	return repairer.Run(ctx, runID, e.catalog)
}

// RunStatus is a point-in-time view of one run.
type RunStatus struct {
	Run        *core.RunRecord
	Checkpoint *core.Checkpoint
	Committed  int
	Partial    int
	RolledBack int
}

// Status reports a run's state, checkpoint position, and outcome tallies.
func (e *Engine) Status(ctx context.Context, runID string) (*RunStatus, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
		}
		return nil, err
	}

	status := &RunStatus{Run: run}
	checkpoint, err := e.runs.GetCheckpoint(ctx, runID)
	if err == nil {
		status.Checkpoint = checkpoint
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	outcomes, err := e.runs.ListOutcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case core.WriteCommitted:
			status.Committed++
		case core.WritePartial:
			status.Partial++
		case core.WriteRolledBack:
			status.RolledBack++
		}
	}
	return status, nil
}

// Runs lists every recorded run, most recently updated first.
func (e *Engine) Runs(ctx context.Context) ([]*core.RunRecord, error) {
	return e.runs.ListRuns(ctx)
}

func (e *Engine) newCoordinator() (*pipeline.Coordinator, error) {
	resolver := resolve.NewResolver(e.lookups)
	mapper := mapping.NewDefaultMapper(resolver, e.provider.FieldExtractor())
	extractor := extract.NewExtractor(e.fetcher)
	vectorizer := vectorize.NewVectorizer(e.provider.Embedder(), e.dimension)
	writer := dualwrite.NewWriter(e.relational, e.vectors)

	opts := []pipeline.Option{pipeline.WithLogger(e.logger)}
	if e.monitor != nil {
		opts = append(opts, pipeline.WithMonitor(e.monitor))
	}
	if e.threshold > 0 {
		opts = append(opts, pipeline.WithFailureThreshold(e.threshold))
	}
	if e.poolSize > 0 {
		opts = append(opts, pipeline.WithRunner(pipeline.NewRunner(pipeline.WithPoolSize(e.poolSize))))
	}
	return pipeline.NewCoordinator(extractor, mapper, vectorizer, writer, e.runs, opts...)
}
