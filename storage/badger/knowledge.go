package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

// KnowledgeStore implements storage.KnowledgeStore on BadgerDB.
//
// Queries score every embedding of the requested model version with cosine
// similarity. This is exact and needs no index, which suits the corpus sizes
// of a single assistant deployment.
type KnowledgeStore struct {
	backend *Backend
}

var (
	_ storage.KnowledgeStore = (*KnowledgeStore)(nil)
	_ storage.ChunkScanner   = (*KnowledgeStore)(nil)
)

// NewKnowledgeStore creates a KnowledgeStore on backend.
func NewKnowledgeStore(backend *Backend) *KnowledgeStore {
	return &KnowledgeStore{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (s *KnowledgeStore) Close() error {
	return nil
}

// Upsert writes chunks, embedding records and index entries.
func (s *KnowledgeStore) Upsert(ctx context.Context, records ...*core.IndexedChunk) error {
	for _, rec := range records {
		if err := core.ValidateIndexedChunk(rec); err != nil {
			return err
		}
	}
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	return s.backend.WriteBatch(func(wb *badger.WriteBatch) error {
		models := make(map[string]bool)
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk := rec.Chunk
			emb := rec.Embedding
			if err := wb.Set(makeChunkKey(chunk.ID), storage.MarshalChunk(&chunk)); err != nil {
				return err
			}
			if err := wb.Set(makeEmbeddingKey(emb.ModelVersion, chunk.ID), storage.MarshalEmbeddingRecord(&emb)); err != nil {
				return err
			}
			if err := wb.Set(makeDocChunkKey(chunk.DocumentID, chunk.OrderIndex), []byte(chunk.ID)); err != nil {
				return err
			}
			models[emb.ModelVersion] = true
		}
		for model := range models {
			if err := wb.Set(makeModelKey(model), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

type candidate struct {
	chunkID string
	score   float32
}

// Query scores every embedding under q.ModelVersion and returns the best
// q.Limit chunks that satisfy q.Filters.
func (s *KnowledgeStore) Query(ctx context.Context, q core.VectorQuery) ([]*core.ScoredChunk, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}
	if s.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	var results []*core.ScoredChunk
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var candidates []candidate
		err := scanPrefix(tx, makeModelEmbeddingPrefix(q.ModelVersion), func(item *badger.Item) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				rec, err := storage.UnmarshalEmbeddingRecord(val)
				if err != nil {
					return err
				}
				candidates = append(candidates, candidate{
					chunkID: rec.ChunkID,
					score:   core.CosineSimilarity(q.Vector, rec.Vector),
				})
				return nil
			})
		})
		if err != nil {
			return err
		}

		slices.SortFunc(candidates, func(a, b candidate) int {
			switch {
			case a.score > b.score:
				return -1
			case a.score < b.score:
				return 1
			}
			return strings.Compare(a.chunkID, b.chunkID)
		})

		for _, c := range candidates {
			if len(results) == q.Limit {
				break
			}
			chunk, err := getChunk(tx, c.chunkID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !chunk.MatchesFilters(q.Filters) {
				continue
			}
			results = append(results, &core.ScoredChunk{Chunk: chunk, Score: c.score})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// PruneDocument deletes chunks of documentID at order index keep and above,
// along with their embeddings under every known model version.
func (s *KnowledgeStore) PruneDocument(ctx context.Context, documentID string, keep int) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	var stale []string
	var staleIndex [][]byte
	var models []string
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		err := scanPrefix(tx, makeDocPrefix(documentID), func(item *badger.Item) error {
			order, err := parseDocChunkOrder(item.Key())
			if err != nil {
				return err
			}
			if order < keep {
				return nil
			}
			staleIndex = append(staleIndex, item.KeyCopy(nil))
			return item.Value(func(val []byte) error {
				stale = append(stale, string(val))
				return nil
			})
		})
		if err != nil {
			return err
		}
		return scanKeys(tx, []byte(modelPrefix), func(key []byte) error {
			models = append(models, strings.TrimPrefix(string(key), modelPrefix))
			return nil
		})
	}, false)
	if err != nil || len(stale) == 0 {
		return err
	}

	s.backend.logger.Debug("pruning stale chunks", "document_id", documentID, "keep", keep, "count", len(stale))
	return s.backend.WriteBatch(func(wb *badger.WriteBatch) error {
		for _, key := range staleIndex {
			if err := wb.Delete(key); err != nil {
				return err
			}
		}
		for _, id := range stale {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := wb.Delete(makeChunkKey(id)); err != nil {
				return err
			}
			for _, model := range models {
				if err := wb.Delete(makeEmbeddingKey(model, id)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// GetChunk returns a stored chunk or storage.ErrNotFound.
func (s *KnowledgeStore) GetChunk(ctx context.Context, chunkID string) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		chunk, err = getChunk(tx, chunkID)
		return err
	}, false)
	return chunk, err
}

// GetEmbedding returns the embedding of chunkID under model or storage.ErrNotFound.
func (s *KnowledgeStore) GetEmbedding(ctx context.Context, model, chunkID string) (*core.EmbeddingRecord, error) {
	var rec *core.EmbeddingRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeEmbeddingKey(model, chunkID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = storage.UnmarshalEmbeddingRecord(val)
			return err
		})
	}, false)
	return rec, err
}

// ScanChunks calls fn for each stored chunk in chunk id order.
func (s *KnowledgeStore) ScanChunks(ctx context.Context, fn func(*core.Chunk) error) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(chunkPrefix), func(item *badger.Item) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var chunk *core.Chunk
			err := item.Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			return fn(chunk)
		})
	}, false)
}

// CountChunks returns the number of stored chunks of documentID.
func (s *KnowledgeStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return scanKeys(tx, makeDocPrefix(documentID), func([]byte) error {
			count++
			return nil
		})
	}, false)
	return count, err
}

func getChunk(tx *badger.Txn, chunkID string) (*core.Chunk, error) {
	item, err := tx.Get(makeChunkKey(chunkID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}
