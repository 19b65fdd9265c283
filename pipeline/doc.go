// Package pipeline orchestrates the four ingestion stages: extraction,
// structured processing, vectorization and dual-store loading.
//
// The Coordinator drives one run at a time through a strict state machine,
// persisting a checkpoint at every stage transition so a crashed or paused
// run resumes where it stopped instead of re-writing finished documents.
// Within a stage, items are processed concurrently by a worker pool; item
// failures are isolated, and only when a stage's failure rate crosses the
// configured threshold does the run as a whole pause.
package pipeline
