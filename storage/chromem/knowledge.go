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


// Package chromem implements storage.KnowledgeStore on the embedded
// chromem-go vector database.
//
// Each (model version, dimensions) pair gets its own collection, so records
// of different embedding models never meet in one similarity search.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

const collectionPrefix = "chunks/"

// Reserved metadata keys. They are stripped before chunks are returned.
const (
	keyDocument   = "_conductor_document"
	keyOrder      = "_conductor_order"
	keyEmbeddedAt = "_conductor_embedded_at"
)

// tieSlack extra candidates are fetched so ties at the limit are broken by chunk id.
const tieSlack = 8

var errEmbeddingRequired = errors.New("chromem store only accepts precomputed embeddings")

// KnowledgeStore stores chunks as chromem documents.
type KnowledgeStore struct {
	db     *chromem.DB
	logger *slog.Logger
}

// Option configures a KnowledgeStore.
type Option func(*KnowledgeStore)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *KnowledgeStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens a chromem database at path. An empty path keeps everything in memory.
func Open(path string, compress bool, opts ...Option) (*KnowledgeStore, error) {
	if path == "" {
		return NewKnowledgeStore(chromem.NewDB(), opts...), nil
	}
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem database at %s: %w", path, err)
	}
	return NewKnowledgeStore(db, opts...), nil
}

// NewKnowledgeStore wraps an existing chromem database.
func NewKnowledgeStore(db *chromem.DB, opts ...Option) *KnowledgeStore {
	s := &KnowledgeStore{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "chromem")
	return s
}

// Close is a no-op; chromem persists every write immediately.
func (s *KnowledgeStore) Close() error {
	return nil
}

func collectionName(model string, dims int) string {
	return collectionPrefix + model + "/" + strconv.Itoa(dims)
}

// parseCollection returns the dimensions encoded in a collection name.
func parseCollection(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, collectionPrefix)
	if !ok {
		return 0, false
	}
	i := strings.LastIndex(rest, "/")
	if i < 0 {
		return 0, false
	}
	dims, err := strconv.Atoi(rest[i+1:])
	return dims, err == nil && dims > 0
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errEmbeddingRequired
}

// Upsert writes records, overwriting chunks already stored under the same
// model version.
func (s *KnowledgeStore) Upsert(ctx context.Context, records ...*core.IndexedChunk) error {
	groups := make(map[string][]chromem.Document)
	for _, rec := range records {
		if err := core.ValidateIndexedChunk(rec); err != nil {
			return err
		}
		name := collectionName(rec.Embedding.ModelVersion, len(rec.Embedding.Vector))
		groups[name] = append(groups[name], toDocument(rec))
	}

	for name, docs := range groups {
		collection, err := s.db.GetOrCreateCollection(name, nil, noEmbedding)
		if err != nil {
			return fmt.Errorf("getting/creating collection %s: %w", name, err)
		}
		if err := collection.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("adding documents to %s: %w", name, err)
		}
		s.logger.Debug("upserted chunks", "collection", name, "count", len(docs))
	}
	return nil
}

// Query runs an exhaustive similarity search in the collection matching the
// query's model version and vector size.
func (s *KnowledgeStore) Query(ctx context.Context, q core.VectorQuery) ([]*core.ScoredChunk, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}

	collection := s.db.GetCollection(collectionName(q.ModelVersion, len(q.Vector)), noEmbedding)
	if collection == nil {
		return []*core.ScoredChunk{}, nil
	}
	count := collection.Count()
	if count == 0 {
		return []*core.ScoredChunk{}, nil
	}

	results, err := collection.QueryEmbedding(ctx, q.Vector, min(q.Limit+tieSlack, count), whereClause(q.Filters), nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection.Name, err)
	}

	scored := make([]*core.ScoredChunk, 0, len(results))
	for _, r := range results {
		chunk, err := fromDocument(r.ID, r.Content, r.Metadata)
		if err != nil {
			return nil, err
		}
		scored = append(scored, &core.ScoredChunk{Chunk: chunk, Score: r.Similarity})
	}
	core.SortScored(scored)
	if len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}
	return scored, nil
}

// PruneDocument deletes chunks of documentID at order index keep and above
// from every model collection.
func (s *KnowledgeStore) PruneDocument(ctx context.Context, documentID string, keep int) error {
	return s.eachCollection(func(collection *chromem.Collection, dims int) error {
		docs, err := documentsWhere(ctx, collection, dims, map[string]string{keyDocument: documentID})
		if err != nil {
			return err
		}
		var stale []string
		for _, d := range docs {
			order, _ := strconv.Atoi(d.Metadata[keyOrder])
			if order >= keep {
				stale = append(stale, d.ID)
			}
		}
		if len(stale) == 0 {
			return nil
		}
		if err := collection.Delete(ctx, nil, nil, stale...); err != nil {
			return fmt.Errorf("deleting stale chunks from %s: %w", collection.Name, err)
		}
		s.logger.Debug("pruned chunks", "collection", collection.Name, "document_id", documentID, "count", len(stale))
		return nil
	})
}

// ScanChunks calls fn for each distinct chunk across every model collection,
// in chunk id order.
func (s *KnowledgeStore) ScanChunks(ctx context.Context, fn func(*core.Chunk) error) error {
	chunks := make(map[string]*core.Chunk)
	err := s.eachCollection(func(collection *chromem.Collection, dims int) error {
		docs, err := documentsWhere(ctx, collection, dims, nil)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if _, seen := chunks[d.ID]; seen {
				continue
			}
			chunk, err := fromDocument(d.ID, d.Content, d.Metadata)
			if err != nil {
				return err
			}
			chunks[d.ID] = chunk
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range slices.Sorted(maps.Keys(chunks)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(chunks[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *KnowledgeStore) eachCollection(fn func(*chromem.Collection, int) error) error {
	collections := s.db.ListCollections()
	for _, name := range slices.Sorted(maps.Keys(collections)) {
		dims, ok := parseCollection(name)
		if !ok {
			continue
		}
		if err := fn(s.db.GetCollection(name, noEmbedding), dims); err != nil {
			return err
		}
	}
	return nil
}

// documentsWhere returns every document in collection matching where. The
// probe vector only satisfies the query API; all matches are returned.
func documentsWhere(ctx context.Context, collection *chromem.Collection, dims int, where map[string]string) ([]chromem.Result, error) {
	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	probe := make([]float32, dims)
	probe[0] = 1
	docs, err := collection.QueryEmbedding(ctx, probe, count, where, nil)
	if err != nil {
		return nil, fmt.Errorf("listing documents in %s: %w", collection.Name, err)
	}
	return docs, nil
}

func whereClause(filters map[string]string) map[string]string {
	if len(filters) == 0 {
		return nil
	}
	where := make(map[string]string, len(filters))
	for k, v := range filters {
		if k == core.MetaDocumentID {
			k = keyDocument
		}
		where[k] = v
	}
	return where
}

func toDocument(rec *core.IndexedChunk) chromem.Document {
	meta := make(map[string]string, len(rec.Chunk.Metadata)+3)
	maps.Copy(meta, rec.Chunk.Metadata)
	meta[keyDocument] = rec.Chunk.DocumentID
	meta[keyOrder] = strconv.Itoa(rec.Chunk.OrderIndex)
	meta[keyEmbeddedAt] = rec.Embedding.EmbeddedAt.UTC().Format(time.RFC3339Nano)
	return chromem.Document{
		ID:        rec.Chunk.ID,
		Content:   rec.Chunk.Text,
		Metadata:  meta,
		Embedding: rec.Embedding.Vector,
	}
}

func fromDocument(id, content string, stored map[string]string) (*core.Chunk, error) {
	order, err := strconv.Atoi(stored[keyOrder])
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s has no order index", storage.ErrSerializationFailed, id)
	}
	meta := make(map[string]string, len(stored))
	for k, v := range stored {
		if !strings.HasPrefix(k, "_conductor_") {
			meta[k] = v
		}
	}
	return &core.Chunk{
		ID:         id,
		DocumentID: stored[keyDocument],
		Text:       content,
		OrderIndex: order,
		Metadata:   meta,
	}, nil
}
