package pipeline

import "errors"

var (
	// ErrExtractorRequired is returned when an extractor is not provided.
	ErrExtractorRequired = errors.New("extractor required")

	// ErrMapperRequired is returned when a mapper is not provided.
	ErrMapperRequired = errors.New("mapper required")

	// ErrVectorizerRequired is returned when a vectorizer is not provided.
	ErrVectorizerRequired = errors.New("vectorizer required")

	// ErrWriterRequired is returned when a dual-store writer is not provided.
	ErrWriterRequired = errors.New("dual-store writer required")

	// ErrRunStoreRequired is returned when a run store is not provided.
	ErrRunStoreRequired = errors.New("run store required")

	// ErrNoSources is returned when a run is started with an empty catalog.
	ErrNoSources = errors.New("no sources to process")

	// ErrRunFinished is returned when resuming a run that already completed.
	ErrRunFinished = errors.New("run already finished")
)
