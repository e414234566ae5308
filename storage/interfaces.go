package storage

import (
	"context"

	"github.com/poiesic/conductor/core"
)

// KnowledgeStore persists chunks with their embeddings and answers vector
// similarity queries. Implementations must be thread-safe and support
// concurrent access.
type KnowledgeStore interface {
	// Upsert writes chunks and their embedding records. Writing a chunk id
	// that already exists at the same model version overwrites it.
	Upsert(ctx context.Context, records ...*core.IndexedChunk) error

	// Query returns up to q.Limit chunks whose embedding under q.ModelVersion
	// is most similar to q.Vector and whose metadata matches every filter.
	// Results are ordered by score descending, then chunk id ascending.
	// Returns ErrInvalidQuery when the limit is not positive or the vector is empty.
	Query(ctx context.Context, q core.VectorQuery) ([]*core.ScoredChunk, error)

	// PruneDocument removes chunks of documentID whose order index is >= keep,
	// together with their embeddings under every model version.
	PruneDocument(ctx context.Context, documentID string, keep int) error

	// Close releases resources held by the store.
	Close() error
}

// ChunkScanner iterates every stored chunk. Used when re-embedding under a new
// model version.
type ChunkScanner interface {
	// ScanChunks calls fn for each chunk in chunk id order. Iteration stops at
	// the first error returned by fn.
	ScanChunks(ctx context.Context, fn func(*core.Chunk) error) error
}

// DeadLetterRepository stores embedding batches that exhausted their retries.
type DeadLetterRepository interface {
	// PutDeadLetter saves or replaces a dead letter by id.
	PutDeadLetter(ctx context.Context, dl *core.DeadLetter) error

	// ListDeadLetters returns every dead letter ordered by creation time.
	ListDeadLetters(ctx context.Context) ([]*core.DeadLetter, error)

	// DeleteDeadLetter removes a dead letter. Deleting a missing id is not an error.
	DeleteDeadLetter(ctx context.Context, id string) error
}

// CacheStore persists response cache entries keyed by fingerprint.
type CacheStore interface {
	// GetEntry returns the entry for fingerprint or ErrNotFound.
	// Expiry is not checked; callers decide whether an entry is servable.
	GetEntry(ctx context.Context, fingerprint string) (*core.CacheEntry, error)

	// PutEntry saves or replaces the entry for its fingerprint.
	PutEntry(ctx context.Context, entry *core.CacheEntry) error

	// DeleteEntry removes the entry for fingerprint if present.
	DeleteEntry(ctx context.Context, fingerprint string) error
}
