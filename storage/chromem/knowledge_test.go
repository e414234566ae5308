package chromem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

const testModel = "test-model"

func newTestStore(t *testing.T) *KnowledgeStore {
	t.Helper()
	return NewKnowledgeStore(chromem.NewDB())
}

func indexed(doc string, order int, text string, vec []float32, meta map[string]string) *core.IndexedChunk {
	id := core.ChunkID(doc, order)
	if meta == nil {
		meta = map[string]string{}
	}
	meta[core.MetaDocumentID] = doc
	return &core.IndexedChunk{
		Chunk: core.Chunk{ID: id, DocumentID: doc, Text: text, OrderIndex: order, Metadata: meta},
		Embedding: core.EmbeddingRecord{
			ChunkID:      id,
			Vector:       vec,
			ModelVersion: testModel,
			EmbeddedAt:   time.Now().UTC(),
		},
	}
}

func queryFor(vec []float32, limit int) core.VectorQuery {
	return core.VectorQuery{Vector: vec, ModelVersion: testModel, Limit: limit}
}

func scanIDs(t *testing.T, store *KnowledgeStore) []string {
	t.Helper()
	var ids []string
	require.NoError(t, store.ScanChunks(context.Background(), func(c *core.Chunk) error {
		ids = append(ids, c.ID)
		return nil
	}))
	return ids
}

func TestKnowledgeStore_UpsertAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx,
		indexed("a", 0, "alpha", []float32{1, 0, 0}, map[string]string{core.MetaContentType: "markdown"}),
		indexed("a", 1, "beta", []float32{0.8, 0.6, 0}, nil),
		indexed("b", 0, "gamma", []float32{0, 0, 1}, nil),
	))

	results, err := store.Query(ctx, queryFor([]float32{1, 0, 0}, 2))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a/00000", results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Equal(t, "a/00001", results[1].Chunk.ID)
	assert.InDelta(t, 0.8, results[1].Score, 1e-5)

	first := results[0].Chunk
	assert.Equal(t, "a", first.DocumentID)
	assert.Equal(t, "alpha", first.Text)
	assert.Equal(t, 0, first.OrderIndex)
	assert.Equal(t, map[string]string{
		core.MetaDocumentID:  "a",
		core.MetaContentType: "markdown",
	}, first.Metadata)
}

func TestKnowledgeStore_QueryTiesBrokenByChunkID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx,
		indexed("z", 0, "same", []float32{1, 0}, nil),
		indexed("m", 0, "same", []float32{1, 0}, nil),
		indexed("a", 0, "same", []float32{1, 0}, nil),
	))

	results, err := store.Query(ctx, queryFor([]float32{1, 0}, 2))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a/00000", results[0].Chunk.ID)
	assert.Equal(t, "m/00000", results[1].Chunk.ID)
}

func TestKnowledgeStore_QueryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx,
		indexed("a", 0, "md", []float32{1, 0}, map[string]string{core.MetaContentType: "markdown"}),
		indexed("b", 0, "code", []float32{1, 0}, map[string]string{core.MetaContentType: "code"}),
		indexed("b", 1, "more code", []float32{0, 1}, map[string]string{core.MetaContentType: "code"}),
	))

	tests := []struct {
		name    string
		filters map[string]string
		want    []string
	}{
		{"content type", map[string]string{core.MetaContentType: "code"}, []string{"b/00000", "b/00001"}},
		{"document id", map[string]string{core.MetaDocumentID: "a"}, []string{"a/00000"}},
		{"no match", map[string]string{core.MetaContentType: "chat"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queryFor([]float32{1, 0}, 5)
			q.Filters = tt.filters
			results, err := store.Query(ctx, q)
			require.NoError(t, err)
			var ids []string
			for _, r := range results {
				ids = append(ids, r.Chunk.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestKnowledgeStore_QueryIsolatesModelVersions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, indexed("a", 0, "alpha", []float32{1, 0}, nil)))

	q := queryFor([]float32{1, 0}, 5)
	q.ModelVersion = "other-model"
	results, err := store.Query(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = store.Query(ctx, queryFor([]float32{1, 0, 0}, 5))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKnowledgeStore_QueryInvalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Query(ctx, queryFor([]float32{1}, 0))
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	_, err = store.Query(ctx, queryFor(nil, 3))
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestKnowledgeStore_UpsertOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, indexed("a", 0, "old", []float32{1, 0}, nil)))
	require.NoError(t, store.Upsert(ctx, indexed("a", 0, "new", []float32{1, 0}, nil)))

	results, err := store.Query(ctx, queryFor([]float32{1, 0}, 10))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Chunk.Text)
}

func TestKnowledgeStore_UpsertRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	err := store.Upsert(context.Background(), indexed("a", 0, "x", nil, nil))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestKnowledgeStore_PruneDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Upsert(ctx, indexed("doc", i, fmt.Sprintf("part %d", i), []float32{1, float32(i)}, nil)))
	}
	require.NoError(t, store.Upsert(ctx, indexed("doc2", 3, "neighbour", []float32{1, 0}, nil)))

	require.NoError(t, store.PruneDocument(ctx, "doc", 2))
	assert.Equal(t, []string{"doc/00000", "doc/00001", "doc2/00003"}, scanIDs(t, store))

	require.NoError(t, store.PruneDocument(ctx, "missing", 0))
	assert.Len(t, scanIDs(t, store), 3)
}

func TestKnowledgeStore_ScanChunksAcrossModels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx,
		indexed("b", 0, "two", []float32{1}, nil),
		indexed("a", 1, "one", []float32{1}, nil),
		indexed("a", 0, "zero", []float32{1}, nil),
	))
	upgraded := indexed("a", 0, "zero", []float32{0, 1}, nil)
	upgraded.Embedding.ModelVersion = "new-model"
	require.NoError(t, store.Upsert(ctx, upgraded))

	assert.Equal(t, []string{"a/00000", "a/00001", "b/00000"}, scanIDs(t, store))
}

func TestKnowledgeStore_ScanChunksStopsOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx,
		indexed("a", 0, "zero", []float32{1}, nil),
		indexed("a", 1, "one", []float32{1}, nil),
	))

	stop := fmt.Errorf("stop")
	calls := 0
	err := store.ScanChunks(ctx, func(*core.Chunk) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir, false)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, indexed("a", 0, "kept", []float32{1, 0}, nil)))
	require.NoError(t, store.Close())

	reopened, err := Open(dir, false)
	require.NoError(t, err)
	results, err := reopened.Query(ctx, queryFor([]float32{1, 0}, 1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].Chunk.Text)
}

func TestParseCollection(t *testing.T) {
	tests := []struct {
		name     string
		wantDims int
		wantOK   bool
	}{
		{collectionName("text-embedding-3-small", 1536), 1536, true},
		{collectionName("org/model", 8), 8, true},
		{"chunks/model", 0, false},
		{"other/model/8", 0, false},
		{"chunks/model/x", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dims, ok := parseCollection(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantDims, dims)
		})
	}
}
