// Package extract retrieves raw documents from the configured financial and
// economic data sources and normalizes them for the downstream stages. Each
// extracted document is fingerprinted by content, which anchors idempotency
// for the rest of the pipeline.
package extract
