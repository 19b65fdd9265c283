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

// Package core defines the domain model shared by every pipeline stage:
// source descriptors, extracted documents, structured record drafts, text
// chunks, embedding vectors, write outcomes and run checkpoints, together
// with the error taxonomy and draft validation rules.
//
// Every item is identified by a content fingerprint from the moment it is
// extracted. The fingerprint is the idempotency key for all downstream
// stages and for both persistence stores.
package core
