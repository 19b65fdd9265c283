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


// Package storage provides the storage abstraction layer for finpipe.
//
// This package defines store interfaces that decouple persistence from the
// pipeline logic. The pipeline writes to three distinct surfaces, each with
// interchangeable backends:
//
//   - RelationalStore: structured fact records (PostgreSQL, in-memory)
//   - LookupStore: dimension lookup tables (PostgreSQL, in-memory)
//   - VectorStore: chunk embeddings (pgvector, in-memory)
//   - RunStore: run records, checkpoints, write outcomes (BadgerDB, in-memory)
//
// # Constructor Return Type Pattern
//
// This package follows a strict "return interface" pattern for all public
// constructors to enforce abstraction and enable multiple backend
// implementations:
//
//	store, err := badger.NewRunStore(path)  // returns storage.RunStore interface
//
// This design decision prioritizes:
//   - Abstraction: Prevents accidental coupling to backend specifics
//   - Swappability: Simulation mode swaps in-memory stores under the same
//     interfaces without touching pipeline code
//   - Testing: Consumers can use in-memory implementations without modification
//
// Internal package constructors (newBackend, etc.) may return concrete types
// since they're only used within the implementation package.
//
// # Thread Safety
//
// All store implementations must be thread-safe and support concurrent access
// from multiple goroutines: stage workers resolve lookups and write records
// in parallel.
//
// # Context Support
//
// All store methods accept context.Context for cancellation and timeout
// support. Pass context.Background() for operations without specific timeout
// requirements.
package storage
