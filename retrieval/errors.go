package retrieval

import "errors"

var (
	// ErrKnowledgeStoreRequired is returned when a knowledge store is not provided.
	ErrKnowledgeStoreRequired = errors.New("knowledge store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrInvalidWeights is returned when score weights are negative or both zero.
	ErrInvalidWeights = errors.New("invalid score weights")
)
