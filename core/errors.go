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

package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch indicates an embedding vector whose length does
	// not match the deployment's configured dimensionality. This is a fatal
	// configuration error, never a per-item failure.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUnknownTable indicates a draft targeting a table the validation
	// registry does not know.
	ErrUnknownTable = errors.New("unknown target table")

	// ErrUnknownContentType indicates a document content type with no
	// registered mapping handler.
	ErrUnknownContentType = errors.New("unknown content type")

	// ErrRunNotFound indicates that no run state exists for a run id.
	ErrRunNotFound = errors.New("run not found")
)

// FetchError is a transient failure retrieving a source document.
type FetchError struct {
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError is a permanent per-item failure: a structured draft with
// missing or malformed required fields.
type ValidationError struct {
	Table string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validate %s.%s: %v", e.Table, e.Field, e.Err)
	}
	return fmt.Sprintf("validate %s: %v", e.Table, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ResolutionError is a transient failure resolving a lookup dimension: the
// backing store stayed unreachable past the resolver's retry budget.
type ResolutionError struct {
	Dimension  string
	NaturalKey string
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s %q: %v", e.Dimension, e.NaturalKey, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// EmbeddingError is a transient failure generating a document's vector set.
// A document's vectorization is all-or-nothing, so the error always covers
// the whole document.
type EmbeddingError struct {
	Fingerprint Fingerprint
	Err         error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed %s: %v", e.Fingerprint, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// WriteError is a dual-store write failure. Status distinguishes a clean
// rollback (nothing persisted) from a partial write (relational durable,
// vectors missing).
type WriteError struct {
	Fingerprint Fingerprint
	Status      WriteStatus
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s (%s): %v", e.Fingerprint, e.Status, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsTransient reports whether an error may succeed on retry. Validation
// failures and configuration mismatches are permanent; everything else
// (network, store, embedding failures, timeouts) is treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return false
	}
	if errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrUnknownTable) ||
		errors.Is(err, ErrUnknownContentType) {
		return false
	}
	return true
}
