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

package dualwrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Unit is one document's complete write load: its validated drafts and its
// vector set. Units are the atom of dual-store consistency; the writer
// never splits one.
type Unit struct {
	Fingerprint core.Fingerprint
	Drafts      []*core.RecordDraft
	Vectors     []*core.EmbeddingVector
}

// Writer performs dual-store writes.
type Writer struct {
	relational  storage.RelationalStore
	vectors     storage.VectorStore
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// Option is a functional option for configuring a Writer.
type Option func(*Writer)

// WithMaxAttempts sets the retry budget for each store phase.
func WithMaxAttempts(n int) Option {
	return func(w *Writer) {
		w.maxAttempts = n
	}
}

// WithBaseDelay sets the initial backoff delay between retries.
func WithBaseDelay(d time.Duration) Option {
	return func(w *Writer) {
		w.baseDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// NewWriter creates a dual-store writer. Simulation mode passes in-memory
// stores; the control flow is identical either way.
func NewWriter(relational storage.RelationalStore, vectors storage.VectorStore, opts ...Option) *Writer {
	w := &Writer{
		relational:  relational,
		vectors:     vectors,
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write commits one unit and always returns an outcome, even on failure:
// the outcome is the durable record of how far the unit got.
//
// Phase order is fixed. The relational transaction runs first; its failure
// is a clean rollback. The vector upsert runs second, with the relational
// keys mirrored into each vector's metadata; its failure leaves a partial
// outcome for repair. Both phases retry transient errors with backoff
// before giving up.
func (w *Writer) Write(ctx context.Context, unit *Unit) (*core.WriteOutcome, error) {
	outcome := &core.WriteOutcome{
		Fingerprint: unit.Fingerprint,
		RecordedAt:  time.Now().UTC(),
	}

	var keys []core.RelationalKey
	err := core.RetryWithBackoff(ctx, func() error {
		upserted, upsertErr := w.relational.UpsertRecords(ctx, unit.Drafts...)
		if upsertErr != nil {
			return upsertErr
		}
		keys = upserted
		return nil
	}, w.maxAttempts, w.baseDelay)
	if err != nil {
		outcome.Status = core.WriteRolledBack
		outcome.Reason = err.Error()
		w.logger.Warn("relational write rolled back",
			slog.String("fingerprint", string(unit.Fingerprint)),
			slog.String("reason", outcome.Reason))
		return outcome, &core.WriteError{Fingerprint: unit.Fingerprint, Status: core.WriteRolledBack, Err: err}
	}
	outcome.RelationalKeys = keys

	MirrorKeys(unit.Vectors, keys)

	var vectorIDs []string
	err = core.RetryWithBackoff(ctx, func() error {
		ids, upsertErr := w.vectors.UpsertVectors(ctx, unit.Vectors...)
		if upsertErr != nil {
			return upsertErr
		}
		vectorIDs = ids
		return nil
	}, w.maxAttempts, w.baseDelay)
	if err != nil {
		outcome.Status = core.WritePartial
		outcome.Reason = err.Error()
		w.logger.Warn("vector write failed after relational commit",
			slog.String("fingerprint", string(unit.Fingerprint)),
			slog.String("reason", outcome.Reason))
		return outcome, &core.WriteError{Fingerprint: unit.Fingerprint, Status: core.WritePartial, Err: err}
	}

	outcome.Status = core.WriteCommitted
	outcome.VectorIDs = vectorIDs
	w.logger.Debug("dual write committed",
		slog.String("fingerprint", string(unit.Fingerprint)),
		slog.Int("records", len(keys)),
		slog.Int("vectors", len(vectorIDs)))
	return outcome, nil
}

// MirrorKeys mirrors the relational keys into each vector's metadata so a
// vector hit resolves to its structured rows without a join table. Repair
// uses the same convention when it re-creates the vectors of a partial
// write.
func MirrorKeys(vectors []*core.EmbeddingVector, keys []core.RelationalKey) {
	if len(keys) == 0 {
		return
	}
	joined := make([]string, len(keys))
	for i, key := range keys {
		joined[i] = fmt.Sprintf("%s:%d", key.Table, key.ID)
	}
	primary := keys[0]
	for _, vec := range vectors {
		if vec.Metadata == nil {
			vec.Metadata = make(map[string]string)
		}
		vec.Metadata["relational_table"] = primary.Table
		vec.Metadata["relational_id"] = fmt.Sprintf("%d", primary.ID)
		vec.Metadata["relational_keys"] = strings.Join(joined, ",")
	}
}
