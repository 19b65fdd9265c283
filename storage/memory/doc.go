// Package memory provides in-memory implementations of the storage
// interfaces. They back simulation mode, where the pipeline exercises its
// full control flow without touching external services, and unit tests,
// where the XxxFunc hooks inject failures.
package memory
