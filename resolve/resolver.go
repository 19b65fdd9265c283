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

package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 100 * time.Millisecond
)

type cacheKey struct {
	dimension  string
	naturalKey string
}

// Resolver resolves dimension values against the lookup store with a
// run-scoped cache.
type Resolver struct {
	lookups     storage.LookupStore
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration

	mu    sync.Mutex
	cache map[cacheKey]int64
	locks map[string]*sync.Mutex
}

// Option is a functional option for configuring a Resolver.
type Option func(*Resolver)

// WithMaxAttempts sets the retry budget for store operations.
func WithMaxAttempts(n int) Option {
	return func(r *Resolver) {
		r.maxAttempts = n
	}
}

// WithBaseDelay sets the initial backoff delay between retries.
func WithBaseDelay(d time.Duration) Option {
	return func(r *Resolver) {
		r.baseDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver over a lookup store. The cache is scoped to
// the resolver instance; create one per run.
func NewResolver(lookups storage.LookupStore, opts ...Option) *Resolver {
	r := &Resolver{
		lookups:     lookups,
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		cache:       make(map[cacheKey]int64),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps a raw dimension value to its surrogate id. The value is
// normalized before lookup so "  BCP " and "BCP" converge on one entry.
// Transient store failures are retried with backoff; exhaustion returns a
// *core.ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, dimension, rawValue string) (int64, error) {
	naturalKey := Normalize(rawValue)
	if naturalKey == "" {
		return 0, &core.ValidationError{
			Field: dimension,
			Err:   errors.New("empty lookup value"),
		}
	}

	key := cacheKey{dimension: dimension, naturalKey: naturalKey}
	r.mu.Lock()
	if id, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	lock := r.locks[dimension]
	if lock == nil {
		lock = &sync.Mutex{}
		r.locks[dimension] = lock
	}
	r.mu.Unlock()

	// Serialize misses per dimension so a burst of workers resolving the
	// same new value issues one store round trip, not one each.
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if id, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	var id int64
	err := core.RetryWithBackoff(ctx, func() error {
		var opErr error
		id, opErr = r.lookups.GetOrCreateLookup(ctx, dimension, naturalKey)
		return opErr
	}, r.maxAttempts, r.baseDelay)
	if err != nil {
		return 0, &core.ResolutionError{Dimension: dimension, NaturalKey: naturalKey, Err: err}
	}

	r.mu.Lock()
	r.cache[key] = id
	r.mu.Unlock()

	r.logger.Debug("resolved lookup",
		slog.String("dimension", dimension),
		slog.String("key", naturalKey),
		slog.Int64("id", id))
	return id, nil
}

// ResolveDraft fills in the draft's lookup refs for every foreign-key field
// its target table requires, reading the natural keys from the draft's own
// fields. Already-resolved refs are left alone, so re-running a draft
// through resolution is harmless.
func (r *Resolver) ResolveDraft(ctx context.Context, draft *core.RecordDraft) error {
	specs, ok := core.RequiredFields(draft.TargetTable)
	if !ok {
		return &core.ValidationError{Table: draft.TargetTable, Err: core.ErrUnknownTable}
	}

	for _, spec := range specs {
		if spec.Kind != core.FieldRef {
			continue
		}
		if ref, found := draft.LookupFor(spec.Dimension); found && ref.ResolvedID > 0 {
			continue
		}

		raw, err := naturalKeyField(draft, spec)
		if err != nil {
			return err
		}
		id, err := r.Resolve(ctx, spec.Dimension, raw)
		if err != nil {
			return err
		}
		draft.Lookups = append(draft.Lookups, core.LookupRef{
			Dimension:  spec.Dimension,
			NaturalKey: Normalize(raw),
			ResolvedID: id,
		})
	}
	return nil
}

// Normalize canonicalizes a raw dimension value: surrounding whitespace is
// trimmed and inner runs collapse to single spaces.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

func naturalKeyField(draft *core.RecordDraft, spec core.FieldSpec) (string, error) {
	value, present := draft.Fields[spec.Name]
	if !present || value == nil {
		return "", &core.ValidationError{
			Table: draft.TargetTable,
			Field: spec.Name,
			Err:   fmt.Errorf("missing natural key for dimension %q", spec.Dimension),
		}
	}
	raw, isStr := value.(string)
	if !isStr {
		return "", &core.ValidationError{
			Table: draft.TargetTable,
			Field: spec.Name,
			Err:   fmt.Errorf("natural key for dimension %q must be a string, got %T", spec.Dimension, value),
		}
	}
	return raw, nil
}
