package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/ratelimit"
	"github.com/poiesic/conductor/retry"
	"github.com/poiesic/conductor/storage"
)

// indexer embeds chunk batches and writes them to the knowledge store.
// Every embedding request, retries included, first takes a token from the
// shared limiter.
type indexer struct {
	embedder ai.Embedder
	store    storage.KnowledgeStore
	limiter  *ratelimit.Limiter
	policy   retry.Policy
	now      func() time.Time
	logger   *slog.Logger
}

func newIndexer(embedder ai.Embedder, store storage.KnowledgeStore, limiter *ratelimit.Limiter, policy retry.Policy, logger *slog.Logger) *indexer {
	return &indexer{
		embedder: embedder,
		store:    store,
		limiter:  limiter,
		policy:   policy,
		now:      time.Now,
		logger:   logger.With("processor", "embeddings"),
	}
}

// index embeds and upserts chunks as one batch. It returns the number of
// embedding attempts made.
func (ix *indexer) index(ctx context.Context, chunks []core.Chunk) (int, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vectors [][]float32
	attempts, err := retry.Do(ctx, ix.policy, func(ctx context.Context) error {
		if err := ix.limiter.Wait(ctx); err != nil {
			return err
		}
		v, err := ix.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("%w: embedding result mismatch. expected %d, received %d",
				core.ErrInvalidRequest, len(texts), len(v))
		}
		vectors = v
		return nil
	})
	if err != nil {
		return attempts, err
	}

	model := ix.embedder.ModelVersion()
	embeddedAt := ix.now().UTC()
	records := make([]*core.IndexedChunk, len(chunks))
	for i, c := range chunks {
		records[i] = &core.IndexedChunk{
			Chunk: c,
			Embedding: core.EmbeddingRecord{
				ChunkID:      c.ID,
				Vector:       vectors[i],
				ModelVersion: model,
				EmbeddedAt:   embeddedAt,
			},
		}
	}
	if err := ix.store.Upsert(ctx, records...); err != nil {
		return attempts, fmt.Errorf("upsert %d chunks: %w", len(records), err)
	}
	ix.logger.Debug("indexed batch", "chunks", len(chunks), "attempts", attempts)
	return attempts, nil
}
