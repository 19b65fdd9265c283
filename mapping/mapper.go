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

package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/finpipe/ai"
	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/resolve"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Handler maps one document into zero or more record drafts. Handlers fill
// raw field values; resolution and validation happen in the Mapper.
type Handler interface {
	Map(ctx context.Context, doc *core.ExtractedDocument) ([]*core.RecordDraft, error)
}

// Mapper routes documents to content-type handlers and finishes their
// drafts: lookup refs resolved, fingerprint stamped, validation enforced.
type Mapper struct {
	handlers    map[core.ContentType]Handler
	resolver    *resolve.Resolver
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// Option is a functional option for configuring a Mapper.
type Option func(*Mapper)

// WithMaxAttempts sets the per-document handler retry budget.
func WithMaxAttempts(n int) Option {
	return func(m *Mapper) {
		m.maxAttempts = n
	}
}

// WithBaseDelay sets the initial backoff delay between handler retries.
func WithBaseDelay(d time.Duration) Option {
	return func(m *Mapper) {
		m.baseDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapper) {
		m.logger = logger
	}
}

// NewMapper creates a mapper with an empty handler registry.
func NewMapper(resolver *resolve.Resolver, opts ...Option) *Mapper {
	m := &Mapper{
		handlers:    make(map[core.ContentType]Handler),
		resolver:    resolver,
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewDefaultMapper creates a mapper with the standard handlers registered:
// structural mapping for JSON, LLM field extraction for text, PDF and
// spreadsheet payloads.
func NewDefaultMapper(resolver *resolve.Resolver, extractor ai.FieldExtractor, opts ...Option) *Mapper {
	m := NewMapper(resolver, opts...)
	m.Register(core.ContentTypeJSON, NewJSONHandler())
	text := NewTextHandler(extractor)
	m.Register(core.ContentTypeText, text)
	m.Register(core.ContentTypePDF, text)
	m.Register(core.ContentTypeExcel, text)
	return m
}

// Register binds a handler to a content type, replacing any previous one.
func (m *Mapper) Register(ct core.ContentType, handler Handler) {
	m.handlers[ct] = handler
}

// Map produces the validated drafts for one document. Transient handler
// failures (the extraction model being unreachable) are retried in place
// with backoff; a document with no registered handler returns a permanent
// error. A draft that fails validation is dropped on its own while its
// valid siblings survive; the document fails only when no valid draft
// remains.
func (m *Mapper) Map(ctx context.Context, doc *core.ExtractedDocument) ([]*core.RecordDraft, error) {
	handler, ok := m.handlers[doc.ContentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownContentType, doc.ContentType)
	}

	var drafts []*core.RecordDraft
	err := core.RetryWithBackoff(ctx, func() error {
		mapped, mapErr := handler.Map(ctx, doc)
		if mapErr != nil {
			return mapErr
		}
		drafts = mapped
		return nil
	}, m.maxAttempts, m.baseDelay)
	if err != nil {
		return nil, err
	}

	kept := drafts[:0]
	var dropped []error
	for _, draft := range drafts {
		draft.Fingerprint = doc.Fingerprint
		if err := m.resolver.ResolveDraft(ctx, draft); err != nil {
			return nil, err
		}
		if err := core.ValidateDraft(draft); err != nil {
			m.logger.Warn("dropping invalid draft",
				slog.String("source", doc.SourceID),
				slog.String("table", draft.TargetTable),
				slog.Any("err", err))
			dropped = append(dropped, err)
			continue
		}
		kept = append(kept, draft)
	}
	if len(kept) == 0 && len(dropped) > 0 {
		return nil, errors.Join(dropped...)
	}

	m.logger.Debug("mapped document",
		slog.String("source", doc.SourceID),
		slog.String("fingerprint", string(doc.Fingerprint)),
		slog.Int("drafts", len(kept)),
		slog.Int("dropped", len(dropped)))
	return kept, nil
}
