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


package reembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/ratelimit"
	"github.com/poiesic/conductor/retry"
	"github.com/poiesic/conductor/storage"
)

// Store is a knowledge store that can enumerate its chunks.
type Store interface {
	storage.KnowledgeStore
	storage.ChunkScanner
}

var (
	// ErrStoreRequired is returned when no store is given.
	ErrStoreRequired = errors.New("store required")

	// ErrEmbedderRequired is returned when no embedder is given.
	ErrEmbedderRequired = errors.New("embedder required")
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks sent in each embedding request
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// Policy controls retries of failed embedding requests
	Policy retry.Policy

	// Limiter throttles embedding requests. Nil means unthrottled.
	Limiter *ratelimit.Limiter
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		Policy:         retry.DefaultPolicy(),
	}
}

// Reembedder re-embeds every stored chunk with a new embedder.
type Reembedder struct {
	store     Store
	embedder  ai.Embedder
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *ChunkIterator
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(store Store, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Policy.MaxAttempts < 1 {
		return nil, retry.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		store:     store,
		embedder:  embedder,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(store, embedder, config.Limiter, config.Policy),
		iterator:  NewChunkIterator(store, config.BatchSize),
		logger:    slog.Default().With("component", "reembed", "model", embedder.ModelVersion()),
	}, nil
}

// Run re-embeds every stored chunk under the embedder's model version and
// returns the number of chunks processed. The first batch that fails after its
// retries stops the run; batches already written stay written, so a rerun
// simply overwrites them.
func (r *Reembedder) Run(ctx context.Context) (int, error) {
	total, err := r.iterator.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found in knowledge store (0 chunks)\n")
		return 0, nil
	}

	fmt.Fprintf(r.progress, "Re-embedding %d chunks as %s (batch size: %d)\n",
		total, r.embedder.ModelVersion(), r.iterator.batchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	processed := 0
	err = r.iterator.ForEach(ctx, func(chunks []core.Chunk) error {
		if err := r.processor.Process(ctx, chunks); err != nil {
			return fmt.Errorf("batch starting at %s: %w", chunks[0].ID, err)
		}
		processed += len(chunks)
		tracker.Add(chunks)
		return nil
	})
	if err != nil {
		r.logger.Error("re-embedding stopped", "processed", processed, "total", total, "err", err)
		return processed, err
	}

	tracker.Finish()
	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Re-embedding complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		processed, elapsed.Round(time.Millisecond), float64(processed)/elapsed.Seconds())
	r.logger.Info("re-embedding complete", "chunks", processed, "documents", tracker.Documents(), "elapsed", elapsed)
	return processed, nil
}
