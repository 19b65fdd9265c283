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


// Package mapping turns extracted documents into validated relational
// record drafts.
//
// A handler registry selects the mapping strategy by content type: JSON
// payloads are mapped structurally, free text goes through the LLM field
// extractor. Transient handler failures are retried in place with backoff.
// Every draft then has its lookup dimensions resolved and is validated
// before it may reach the dual-store writer; a draft that fails validation
// is dropped on its own, never retried, and the document fails only when
// no valid draft remains.
package mapping
