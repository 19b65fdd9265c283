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


// Package dualwrite commits one document's structured records and vectors
// across two stores that share no transaction.
//
// The relational write goes first, inside a transaction: if it fails,
// nothing was persisted anywhere and the outcome is rolled_back. Only after
// it commits are the vectors upserted; a vector failure at that point
// leaves the relational rows durable and the outcome is partial, the input
// to the repair path. Every write unit therefore ends in exactly one of
// committed, rolled_back or partial, and re-running a unit converges:
// upserts are keyed by fingerprint on both sides.
package dualwrite
