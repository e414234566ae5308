package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/conductor/ai/mock"
	"github.com/poiesic/conductor/blob"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/ratelimit"
	"github.com/poiesic/conductor/retry"
	"github.com/poiesic/conductor/storage/badger"
)

type harness struct {
	stores   *badger.Stores
	embedder *mock.MockEmbedder
	pipeline *Pipeline
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Retryable: core.IsTransient}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	limiter, err := ratelimit.New(1000, time.Second)
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = 16
	base := []Option{WithRateLimiter(limiter), WithRetryPolicy(fastPolicy())}
	p, err := NewPipeline(stores.Knowledge, stores.DeadLetters, embedder, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return &harness{stores: stores, embedder: embedder, pipeline: p}
}

func (h *harness) count(t *testing.T, documentID string) int {
	t.Helper()
	n, err := h.stores.Knowledge.CountChunks(context.Background(), documentID)
	require.NoError(t, err)
	return n
}

func generic(id, text string) *core.SourceDocument {
	return &core.SourceDocument{ID: id, ContentType: core.ContentTypeGeneric, RawText: text}
}

// poisonEmbeddings rejects any request containing text with marker.
func poisonEmbeddings(marker string) func(context.Context, []string) ([][]float32, error) {
	return func(ctx context.Context, texts []string) ([][]float32, error) {
		for _, text := range texts {
			if strings.Contains(text, marker) {
				return nil, fmt.Errorf("%w: input rejected", core.ErrInvalidRequest)
			}
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, float32(i + 1)}
		}
		return out, nil
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	defer stores.Close()
	embedder := mock.NewMockEmbedder()

	tests := []struct {
		name    string
		build   func() (*Pipeline, error)
		wantErr error
	}{
		{
			name:    "missing store",
			build:   func() (*Pipeline, error) { return NewPipeline(nil, stores.DeadLetters, embedder) },
			wantErr: ErrKnowledgeStoreRequired,
		},
		{
			name:    "missing dead letters",
			build:   func() (*Pipeline, error) { return NewPipeline(stores.Knowledge, nil, embedder) },
			wantErr: ErrDeadLetterRepositoryRequired,
		},
		{
			name:    "missing embedder",
			build:   func() (*Pipeline, error) { return NewPipeline(stores.Knowledge, stores.DeadLetters, nil) },
			wantErr: ErrEmbedderRequired,
		},
		{
			name: "zero batch size",
			build: func() (*Pipeline, error) {
				return NewPipeline(stores.Knowledge, stores.DeadLetters, embedder, WithBatchSize(0))
			},
			wantErr: core.ErrValidation,
		},
		{
			name: "zero attempts",
			build: func() (*Pipeline, error) {
				return NewPipeline(stores.Knowledge, stores.DeadLetters, embedder, WithRetryPolicy(retry.Policy{}))
			},
			wantErr: retry.ErrInvalidMaxAttempts,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.build()
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIngest_StoresAllDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	docs := []*core.SourceDocument{
		generic("policy", "Refunds are issued within 30 days of purchase."),
		{ID: "sales", ContentType: core.ContentTypeTabular, RawText: "region,total\nnorth,10\nsouth,20"},
	}
	report, err := h.pipeline.Ingest(ctx, docs)
	require.NoError(t, err)

	assert.Equal(t, []string{"policy", "sales"}, report.Accepted)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.DeadLettered)
	assert.Equal(t, 1, h.count(t, "policy"))
	assert.Equal(t, 3, h.count(t, "sales"))
	assert.Equal(t, 4, report.Chunks)

	embedding, err := h.stores.Knowledge.GetEmbedding(ctx, mock.DefaultModelVersion, core.ChunkID("policy", 0))
	require.NoError(t, err)
	assert.Len(t, embedding.Vector, 16)
	assert.False(t, embedding.EmbeddedAt.IsZero())
}

func TestIngest_RejectsInvalidDocuments(t *testing.T) {
	h := newHarness(t)

	report, err := h.pipeline.Ingest(context.Background(), []*core.SourceDocument{
		generic("", "no id"),
		generic("blank", "   "),
		generic("ok", "Fine content."),
		generic("ok", "Same id again."),
		nil,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok"}, report.Accepted)
	require.Len(t, report.Failed, 4)
	for _, f := range report.Failed {
		assert.ErrorIs(t, f.Err, core.ErrValidation)
	}
	assert.ErrorIs(t, report.Failed[2].Err, ErrDuplicateDocument)
	assert.Equal(t, 1, h.embedder.CallCount())
}

func TestIngest_PoisonDocumentIsolated(t *testing.T) {
	h := newHarness(t)
	h.embedder.EmbedTextsFunc = poisonEmbeddings("POISON")
	ctx := context.Background()

	report, err := h.pipeline.Ingest(ctx, []*core.SourceDocument{
		generic("good-1", "The cafeteria opens at eight."),
		generic("bad", "POISON payload"),
		generic("good-2", "Parking is behind building C."),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"good-1", "good-2"}, report.Accepted)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "bad", report.Failed[0].DocumentID)
	assert.ErrorIs(t, report.Failed[0].Err, core.ErrIngestionBatchFailure)
	require.Len(t, report.DeadLettered, 1)

	assert.Equal(t, 1, h.count(t, "good-1"))
	assert.Equal(t, 1, h.count(t, "good-2"))
	assert.Zero(t, h.count(t, "bad"))

	letters, err := h.stores.DeadLetters.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, report.DeadLettered[0], letters[0].ID)
	assert.Equal(t, []string{"bad"}, letters[0].DocumentIDs())
	assert.Equal(t, mock.DefaultModelVersion, letters[0].ModelVersion)
	assert.Equal(t, 1, letters[0].Attempts)
	assert.Contains(t, letters[0].Reason, "input rejected")
}

func TestIngest_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	h.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) == 1 {
			return nil, fmt.Errorf("%w: 503", core.ErrProviderUnavailable)
		}
		return poisonEmbeddings("never")(ctx, texts)
	}

	report, err := h.pipeline.Ingest(context.Background(), []*core.SourceDocument{generic("doc", "Retry me.")})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc"}, report.Accepted)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIngest_MismatchedEmbeddingCount(t *testing.T) {
	h := newHarness(t)
	h.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}

	report, err := h.pipeline.Ingest(context.Background(), []*core.SourceDocument{
		{ID: "sheet", ContentType: core.ContentTypeTabular, RawText: "a,b\n1,2"},
	})
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, core.ErrInvalidRequest)
	assert.Len(t, report.DeadLettered, 1)
}

func TestIngest_ReingestPrunesStaleChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.Ingest(ctx, []*core.SourceDocument{
		{ID: "sheet", ContentType: core.ContentTypeTabular, RawText: "a,b\n1,2\n3,4\n5,6"},
	})
	require.NoError(t, err)
	require.Equal(t, 4, h.count(t, "sheet"))

	report, err := h.pipeline.Ingest(ctx, []*core.SourceDocument{
		{ID: "sheet", ContentType: core.ContentTypeTabular, RawText: "a,b\n7,8"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sheet"}, report.Accepted)
	assert.Equal(t, 2, h.count(t, "sheet"))

	row, err := h.stores.Knowledge.GetChunk(ctx, core.ChunkID("sheet", 1))
	require.NoError(t, err)
	assert.Contains(t, row.Text, "7")
}

func TestIngest_BatchesSpanDocuments(t *testing.T) {
	h := newHarness(t, WithBatchSize(2), WithPoolSize(1))

	docs := make([]*core.SourceDocument, 5)
	for i := range docs {
		docs[i] = generic(fmt.Sprintf("doc-%d", i), fmt.Sprintf("Short note number %d.", i))
	}
	report, err := h.pipeline.Ingest(context.Background(), docs)
	require.NoError(t, err)
	assert.Len(t, report.Accepted, 5)
	assert.Equal(t, 3, h.embedder.CallCount())
}

func TestIngest_HonorsRateLimit(t *testing.T) {
	limiter, err := ratelimit.New(2, 200*time.Millisecond)
	require.NoError(t, err)
	h := newHarness(t, WithRateLimiter(limiter), WithBatchSize(1), WithPoolSize(4))

	docs := make([]*core.SourceDocument, 4)
	for i := range docs {
		docs[i] = generic(fmt.Sprintf("doc-%d", i), "Limited.")
	}
	start := time.Now()
	report, err := h.pipeline.Ingest(context.Background(), docs)
	require.NoError(t, err)
	assert.Len(t, report.Accepted, 4)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestIngest_CanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.pipeline.Ingest(ctx, []*core.SourceDocument{generic("doc", "Never embedded.")})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Accepted)
	require.Len(t, report.Failed, 1)

	letters, err := h.stores.DeadLetters.ListDeadLetters(context.Background())
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestIngest_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := newHarness(t, WithMetrics(m))
	h.embedder.EmbedTextsFunc = poisonEmbeddings("POISON")

	_, err := h.pipeline.Ingest(context.Background(), []*core.SourceDocument{
		generic("good", "Fine."),
		generic("bad", "POISON"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues(outcomeSplit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues(outcomeStored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues(outcomeDeadLettered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunksTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsTotal.WithLabelValues("failed")))
}

func TestRedrive(t *testing.T) {
	h := newHarness(t)
	h.embedder.EmbedTextsFunc = poisonEmbeddings("POISON")
	ctx := context.Background()

	first, err := h.pipeline.Ingest(ctx, []*core.SourceDocument{generic("bad", "POISON again")})
	require.NoError(t, err)
	require.Len(t, first.DeadLettered, 1)

	t.Run("still failing keeps the letter", func(t *testing.T) {
		report, err := h.pipeline.Redrive(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.DeadLettered, report.DeadLettered)
		require.Len(t, report.Failed, 1)
		assert.ErrorIs(t, report.Failed[0].Err, ErrRedriveFailed)

		letters, err := h.stores.DeadLetters.ListDeadLetters(ctx)
		require.NoError(t, err)
		require.Len(t, letters, 1)
		assert.Equal(t, 2, letters[0].Attempts)
	})

	t.Run("recovered provider drains the queue", func(t *testing.T) {
		h.embedder.EmbedTextsFunc = nil
		report, err := h.pipeline.Redrive(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"bad"}, report.Accepted)
		assert.Empty(t, report.DeadLettered)
		assert.Equal(t, 1, report.Chunks)
		assert.Equal(t, 1, h.count(t, "bad"))

		letters, err := h.stores.DeadLetters.ListDeadLetters(ctx)
		require.NoError(t, err)
		assert.Empty(t, letters)
	})
}

func TestContentTypeForKey(t *testing.T) {
	tests := []struct {
		key  string
		want core.ContentType
	}{
		{"docs/guide.md", core.ContentTypeMarkdown},
		{"REPORT.CSV", core.ContentTypeTabular},
		{"support/2025-01-01.chat", core.ContentTypeConversation},
		{"server.log", core.ContentTypeConversation},
		{"bugs/12.issue", core.ContentTypeIssue},
		{"cmd/main.go", core.ContentTypeCode},
		{"lib/util.py", core.ContentTypeCode},
		{"notes.txt", core.ContentTypeGeneric},
		{"README", core.ContentTypeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentTypeForKey(tt.key))
		})
	}
}

func TestDocumentFromObject(t *testing.T) {
	doc := DocumentFromObject("faq/returns.md", []byte("# Returns\nWithin 30 days."))
	assert.Equal(t, "faq/returns.md", doc.ID)
	assert.Equal(t, core.ContentTypeMarkdown, doc.ContentType)
	assert.Equal(t, "faq/returns.md", doc.Metadata[MetaSourceKey])
	assert.NoError(t, core.ValidateSourceDocument(doc))
}

func TestTrigger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	store, err := blob.NewDirStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "faq/returns.md", []byte("# Returns\n\nItems can be returned within 30 days.")))

	notes := make(chan blob.Notification, 2)
	notes <- blob.Notification{Key: "faq/returns.md"}
	notes <- blob.Notification{Key: "faq/missing.md"}
	close(notes)

	require.NoError(t, h.pipeline.Trigger(ctx, store, notes))
	assert.Positive(t, h.count(t, "faq/returns.md"))

	chunk, err := h.stores.Knowledge.GetChunk(ctx, core.ChunkID("faq/returns.md", 0))
	require.NoError(t, err)
	assert.Equal(t, "faq/returns.md", chunk.Metadata[MetaSourceKey])
	assert.Equal(t, string(core.ContentTypeMarkdown), chunk.Metadata[core.MetaContentType])
}

func TestTrigger_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	store, err := blob.NewDirStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = h.pipeline.Trigger(ctx, store, make(chan blob.Notification))
	assert.ErrorIs(t, err, context.Canceled)
}
