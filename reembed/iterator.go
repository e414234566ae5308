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

	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

const (
	// DefaultBatchSize is the default number of chunks per embedding request
	DefaultBatchSize = 32
)

// ChunkIterator walks every stored chunk in batches.
type ChunkIterator struct {
	scanner   storage.ChunkScanner
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks handed to fn at once (defaults when <= 0)
func NewChunkIterator(scanner storage.ChunkScanner, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChunkIterator{scanner: scanner, batchSize: batchSize}
}

// ForEach calls fn with consecutive batches of chunks in chunk id order.
// Iteration stops on the first error from fn or when ctx is done.
func (it *ChunkIterator) ForEach(ctx context.Context, fn func([]core.Chunk) error) error {
	batch := make([]core.Chunk, 0, it.batchSize)
	err := it.scanner.ScanChunks(ctx, func(c *core.Chunk) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = append(batch, *c)
		if len(batch) < it.batchSize {
			return nil
		}
		full := batch
		batch = make([]core.Chunk, 0, it.batchSize)
		return fn(full)
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Count returns the number of stored chunks.
func (it *ChunkIterator) Count(ctx context.Context) (int, error) {
	n := 0
	err := it.scanner.ScanChunks(ctx, func(*core.Chunk) error {
		n++
		return nil
	})
	return n, err
}
