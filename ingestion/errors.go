package ingestion

import "errors"

var (
	// ErrKnowledgeStoreRequired is returned when a knowledge store is not provided.
	ErrKnowledgeStoreRequired = errors.New("knowledge store required")

	// ErrDeadLetterRepositoryRequired is returned when a dead-letter repository is not provided.
	ErrDeadLetterRepositoryRequired = errors.New("dead-letter repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrDuplicateDocument is reported for a document id repeated within one run.
	ErrDuplicateDocument = errors.New("duplicate document in batch")
)

// ErrRedriveFailed wraps the failure of a dead letter that could not be replayed.
var ErrRedriveFailed = errors.New("dead letter redrive failed")
