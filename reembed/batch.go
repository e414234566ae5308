package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/ratelimit"
	"github.com/poiesic/conductor/retry"
	"github.com/poiesic/conductor/storage"
)

// BatchProcessor embeds batches of chunks and stores the new records.
type BatchProcessor struct {
	store    storage.KnowledgeStore
	embedder ai.Embedder
	limiter  *ratelimit.Limiter
	policy   retry.Policy
	now      func() time.Time
}

// NewBatchProcessor creates a new batch processor. A nil limiter admits every
// request.
func NewBatchProcessor(store storage.KnowledgeStore, embedder ai.Embedder, limiter *ratelimit.Limiter, policy retry.Policy) *BatchProcessor {
	return &BatchProcessor{
		store:    store,
		embedder: embedder,
		limiter:  limiter,
		policy:   policy,
		now:      time.Now,
	}
}

// Process embeds chunks under the embedder's model version and upserts the
// records. Vectors are normalized so cosine similarity reduces to a dot product.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var embeddings [][]float32
	attempts, err := retry.Do(ctx, bp.policy, func(ctx context.Context) error {
		if bp.limiter != nil {
			if err := bp.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", attempts, err)
	}

	if len(embeddings) != len(chunks) {
		return fmt.Errorf("%w: embedding count mismatch: expected %d, got %d",
			core.ErrInvalidRequest, len(chunks), len(embeddings))
	}

	model := bp.embedder.ModelVersion()
	embeddedAt := bp.now().UTC()
	records := make([]*core.IndexedChunk, len(chunks))
	for i, c := range chunks {
		records[i] = &core.IndexedChunk{
			Chunk: c,
			Embedding: core.EmbeddingRecord{
				ChunkID:      c.ID,
				Vector:       core.NormalizeVector(embeddings[i]),
				ModelVersion: model,
				EmbeddedAt:   embeddedAt,
			},
		}
	}

	if err := bp.store.Upsert(ctx, records...); err != nil {
		return fmt.Errorf("failed to store embeddings: %w", err)
	}
	return nil
}
