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

// Package ai defines the contracts for the pipeline's AI collaborators: the
// embedding service that turns text chunks into vectors and the LLM-assisted
// field extractor used by the structured mapper for free-text documents.
//
// Implementations live in subpackages: ai/openai talks to OpenAI-compatible
// APIs through langchaingo, ai/mock provides deterministic test doubles.
// Both collaborators must be idempotent for identical input; the pipeline's
// resume semantics depend on it.
package ai
