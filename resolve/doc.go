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


// Package resolve maps free-text dimension values to stable surrogate ids in
// the lookup tables.
//
// Resolution is idempotent and race-safe: a run-scoped cache answers repeat
// values without touching the store, a per-dimension lock serializes cache
// misses, and the store-level get-or-create tolerates concurrent writers
// from other processes. Resolving the same value twice, in any order, from
// any number of goroutines, always yields the same id.
package resolve
