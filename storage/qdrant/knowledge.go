// Package qdrant implements storage.KnowledgeStore on a Qdrant server.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

// Payload fields stored with every point.
const (
	fieldChunkID    = "chunk_id"
	fieldDocumentID = "document_id"
	fieldOrder      = "order_index"
	fieldText       = "text"
	fieldEmbeddedAt = "embedded_at"
	fieldMeta       = "meta"
)

const (
	// DefaultCollection is the collection name prefix.
	DefaultCollection = "conductor"

	scrollPage = 256
	tieSlack   = 8
)

// Client is the subset of *qdrant.Client used by the store.
type Client interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	ListCollections(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	ScrollAndOffset(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)
	Close() error
}

// Config holds connection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// KnowledgeStore stores chunks as Qdrant points. Each (model version,
// dimensions) pair lives in its own cosine collection, created on first write.
type KnowledgeStore struct {
	client Client
	base   string
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]bool
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

// Dial connects to the Qdrant server described by cfg.
func Dial(cfg Config, opts ...Option) (*KnowledgeStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return NewKnowledgeStore(client, cfg.Collection, opts...), nil
}

// NewKnowledgeStore wraps client. Collections are named after base, or
// DefaultCollection when base is empty.
func NewKnowledgeStore(client Client, base string, opts ...Option) *KnowledgeStore {
	if base == "" {
		base = DefaultCollection
	}
	s := &KnowledgeStore{
		client: client,
		base:   base,
		logger: slog.Default(),
		known:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "qdrant")
	return s
}

// Close closes the client connection.
func (s *KnowledgeStore) Close() error {
	return s.client.Close()
}

func (s *KnowledgeStore) collectionName(model string, dims int) string {
	return s.base + "_" + sanitize(model) + "_" + strconv.Itoa(dims)
}

// sanitize maps characters Qdrant rejects in collection names to '_'.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// pointID derives a stable point UUID from a chunk id.
func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String())
}

func (s *KnowledgeStore) ensureCollection(ctx context.Context, name string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known[name] {
		return nil
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dims),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		s.logger.Info("created collection", "collection", name, "dimensions", dims)
	}
	s.known[name] = true
	return nil
}

// Upsert writes records, overwriting chunks already stored under the same
// model version.
func (s *KnowledgeStore) Upsert(ctx context.Context, records ...*core.IndexedChunk) error {
	type group struct {
		dims   int
		points []*qdrant.PointStruct
	}
	groups := make(map[string]*group)
	for _, rec := range records {
		if err := core.ValidateIndexedChunk(rec); err != nil {
			return err
		}
		dims := len(rec.Embedding.Vector)
		name := s.collectionName(rec.Embedding.ModelVersion, dims)
		point, err := toPoint(rec)
		if err != nil {
			return err
		}
		g, ok := groups[name]
		if !ok {
			g = &group{dims: dims}
			groups[name] = g
		}
		g.points = append(g.points, point)
	}

	for _, name := range slices.Sorted(maps.Keys(groups)) {
		g := groups[name]
		if err := s.ensureCollection(ctx, name, g.dims); err != nil {
			return err
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         g.points,
		})
		if err != nil {
			return fmt.Errorf("upserting points to collection %s: %w", name, err)
		}
		s.logger.Debug("upserted chunks", "collection", name, "count", len(g.points))
	}
	return nil
}

// Query searches the collection matching the query's model version and
// vector size.
func (s *KnowledgeStore) Query(ctx context.Context, q core.VectorQuery) ([]*core.ScoredChunk, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}

	name := s.collectionName(q.ModelVersion, len(q.Vector))
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return []*core.ScoredChunk{}, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(q.Vector),
		Filter:         filterFor(q.Filters),
		Limit:          qdrant.PtrOf(uint64(q.Limit + tieSlack)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", name, err)
	}

	scored := make([]*core.ScoredChunk, 0, len(points))
	for _, p := range points {
		chunk, err := fromPayload(p.GetPayload())
		if err != nil {
			return nil, err
		}
		scored = append(scored, &core.ScoredChunk{Chunk: chunk, Score: p.GetScore()})
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
	names, err := s.collections(ctx)
	if err != nil {
		return err
	}
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatchKeyword(fieldDocumentID, documentID),
		qdrant.NewRange(fieldOrder, &qdrant.Range{Gte: qdrant.PtrOf(float64(keep))}),
	}}
	for _, name := range names {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(filter),
		})
		if err != nil {
			return fmt.Errorf("pruning %s in collection %s: %w", documentID, name, err)
		}
	}
	return nil
}

// ScanChunks calls fn for each distinct chunk across every model collection,
// in chunk id order.
func (s *KnowledgeStore) ScanChunks(ctx context.Context, fn func(*core.Chunk) error) error {
	names, err := s.collections(ctx)
	if err != nil {
		return err
	}

	chunks := make(map[string]*core.Chunk)
	for _, name := range names {
		var offset *qdrant.PointId
		for {
			points, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: name,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(scrollPage)),
				WithPayload:    qdrant.NewWithPayload(true),
			})
			if err != nil {
				return fmt.Errorf("scrolling collection %s: %w", name, err)
			}
			for _, p := range points {
				chunk, err := fromPayload(p.GetPayload())
				if err != nil {
					return err
				}
				if _, seen := chunks[chunk.ID]; !seen {
					chunks[chunk.ID] = chunk
				}
			}
			if next == nil {
				break
			}
			offset = next
		}
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

// collections lists this store's collections in name order.
func (s *KnowledgeStore) collections(ctx context.Context) ([]string, error) {
	all, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	var names []string
	for _, name := range all {
		if strings.HasPrefix(name, s.base+"_") {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func filterFor(filters map[string]string) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filters))
	for _, k := range slices.Sorted(maps.Keys(filters)) {
		field := fieldMeta + "." + k
		if k == core.MetaDocumentID {
			field = fieldDocumentID
		}
		must = append(must, qdrant.NewMatchKeyword(field, filters[k]))
	}
	return &qdrant.Filter{Must: must}
}

func toPoint(rec *core.IndexedChunk) (*qdrant.PointStruct, error) {
	meta := make(map[string]any, len(rec.Chunk.Metadata))
	for k, v := range rec.Chunk.Metadata {
		meta[k] = v
	}
	payload, err := qdrant.TryValueMap(map[string]any{
		fieldChunkID:    rec.Chunk.ID,
		fieldDocumentID: rec.Chunk.DocumentID,
		fieldOrder:      rec.Chunk.OrderIndex,
		fieldText:       rec.Chunk.Text,
		fieldEmbeddedAt: rec.Embedding.EmbeddedAt.UTC().Format(time.RFC3339Nano),
		fieldMeta:       meta,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %w", storage.ErrSerializationFailed, rec.Chunk.ID, err)
	}
	return &qdrant.PointStruct{
		Id:      pointID(rec.Chunk.ID),
		Vectors: qdrant.NewVectorsDense(rec.Embedding.Vector),
		Payload: payload,
	}, nil
}

func fromPayload(payload map[string]*qdrant.Value) (*core.Chunk, error) {
	id := payload[fieldChunkID].GetStringValue()
	if id == "" {
		return nil, fmt.Errorf("%w: point payload has no chunk id", storage.ErrSerializationFailed)
	}
	meta := make(map[string]string)
	for k, v := range payload[fieldMeta].GetStructValue().GetFields() {
		meta[k] = v.GetStringValue()
	}
	return &core.Chunk{
		ID:         id,
		DocumentID: payload[fieldDocumentID].GetStringValue(),
		Text:       payload[fieldText].GetStringValue(),
		OrderIndex: int(payload[fieldOrder].GetIntegerValue()),
		Metadata:   meta,
	}, nil
}

var (
	_ Client                 = (*qdrant.Client)(nil)
	_ storage.KnowledgeStore = (*KnowledgeStore)(nil)
	_ storage.ChunkScanner   = (*KnowledgeStore)(nil)
)
