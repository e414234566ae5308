package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/chunking"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/ratelimit"
	"github.com/poiesic/conductor/retry"
	"github.com/poiesic/conductor/storage"
)

// Defaults for the embedding provider's limits.
const (
	DefaultRequestsPerMinute = 60
	DefaultBatchSize         = 32
)

// Failure is a document that was not fully indexed.
type Failure struct {
	DocumentID string
	Err        error
}

// Report summarizes one ingestion or redrive run.
type Report struct {
	// Accepted lists documents whose chunks were all stored.
	Accepted []string
	// Failed lists rejected documents and documents with any chunk not stored.
	Failed []Failure
	// DeadLettered lists the dead letters written (or kept) by the run.
	DeadLettered []string
	// Chunks counts chunks written to the knowledge store.
	Chunks int
}

// Pipeline orchestrates document ingestion.
type Pipeline struct {
	router      *chunking.Router
	store       storage.KnowledgeStore
	deadLetters storage.DeadLetterRepository
	embedder    ai.Embedder
	indexer     *indexer
	pool        *ants.Pool
	limiter     *ratelimit.Limiter
	policy      retry.Policy
	batchSize   int
	metrics     *Metrics
	newID       func() string
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithRouter sets the chunk router. Default is chunking.NewRouter().
func WithRouter(r *chunking.Router) Option {
	return func(p *Pipeline) error {
		if r != nil {
			p.router = r
		}
		return nil
	}
}

// WithRateLimiter shares limiter with other users of the same embedding
// provider. Default admits DefaultRequestsPerMinute requests per minute.
func WithRateLimiter(limiter *ratelimit.Limiter) Option {
	return func(p *Pipeline) error {
		if limiter == nil {
			return fmt.Errorf("%w: rate limiter is nil", core.ErrValidation)
		}
		p.limiter = limiter
		return nil
	}
}

// WithBatchSize sets the maximum number of texts per embedding request.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("%w: batch size must be positive", core.ErrValidation)
		}
		p.batchSize = size
		return nil
	}
}

// WithRetryPolicy sets the backoff for failed embedding requests.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) error {
		if policy.MaxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		p.policy = policy
		return nil
	}
}

// WithPoolSize sets how many batches are embedded concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) error {
		if m != nil {
			p.metrics = m
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	store storage.KnowledgeStore,
	deadLetters storage.DeadLetterRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if store == nil {
		return nil, ErrKnowledgeStoreRequired
	}
	if deadLetters == nil {
		return nil, ErrDeadLetterRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:       store,
		deadLetters: deadLetters,
		embedder:    embedder,
		pool:        pool,
		policy:      retry.DefaultPolicy(),
		batchSize:   DefaultBatchSize,
		newID:       uuid.NewString,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	if p.limiter == nil {
		if p.limiter, err = ratelimit.PerMinute(DefaultRequestsPerMinute); err != nil {
			p.Release()
			return nil, err
		}
	}
	if p.router == nil {
		p.router = chunking.NewRouter(chunking.WithLogger(p.logger))
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	p.logger = p.logger.With("component", "ingestion")
	p.indexer = newIndexer(embedder, store, p.limiter, p.policy, p.logger)
	return p, nil
}

// Ingest indexes docs and reports the outcome per document.
//
// Invalid documents are rejected without being embedded. Re-ingesting a
// document id overwrites its chunks and prunes chunks left over from a
// longer previous version. Batch failures never fail the run; they show up
// in the report. The returned error is non-nil only when ctx ends the run
// early, and the report is still filled in.
func (p *Pipeline) Ingest(ctx context.Context, docs []*core.SourceDocument) (*Report, error) {
	report := &Report{}

	var (
		order    []string
		expected = make(map[string]int)
		chunks   []core.Chunk
	)
	for _, doc := range docs {
		if err := core.ValidateSourceDocument(doc); err != nil {
			id := ""
			if doc != nil {
				id = doc.ID
			}
			report.Failed = append(report.Failed, Failure{DocumentID: id, Err: err})
			p.metrics.DocumentsTotal.WithLabelValues("rejected").Inc()
			p.logger.Warn("document rejected", "document_id", id, "err", err)
			continue
		}
		if _, dup := expected[doc.ID]; dup {
			err := fmt.Errorf("%w: %w: %s", core.ErrValidation, ErrDuplicateDocument, doc.ID)
			report.Failed = append(report.Failed, Failure{DocumentID: doc.ID, Err: err})
			p.metrics.DocumentsTotal.WithLabelValues("rejected").Inc()
			continue
		}
		routed := p.router.Route(doc)
		expected[doc.ID] = len(routed)
		order = append(order, doc.ID)
		chunks = append(chunks, routed...)
	}

	batches := packBatches(chunks, p.batchSize)
	p.logger.Info("ingesting documents", "documents", len(order), "chunks", len(chunks), "batches", len(batches))

	tr := newTracker()
	var wg sync.WaitGroup
	for _, batch := range batches {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			p.runBatch(ctx, batch, tr)
		})
		if err != nil {
			wg.Done()
			tr.failed(batch, fmt.Errorf("%w: %w", core.ErrIngestionBatchFailure, err))
		}
	}
	wg.Wait()

	for _, id := range order {
		if err := tr.errs[id]; err != nil {
			report.Failed = append(report.Failed, Failure{DocumentID: id, Err: err})
			p.metrics.DocumentsTotal.WithLabelValues("failed").Inc()
			continue
		}
		if err := p.store.PruneDocument(ctx, id, expected[id]); err != nil {
			report.Failed = append(report.Failed, Failure{DocumentID: id, Err: fmt.Errorf("prune stale chunks: %w", err)})
			p.metrics.DocumentsTotal.WithLabelValues("failed").Inc()
			continue
		}
		report.Accepted = append(report.Accepted, id)
		p.metrics.DocumentsTotal.WithLabelValues("accepted").Inc()
	}
	report.Chunks = tr.chunks
	report.DeadLettered = tr.deadLetters
	slices.Sort(report.DeadLettered)

	p.logger.Info("ingestion finished",
		"accepted", len(report.Accepted),
		"failed", len(report.Failed),
		"dead_lettered", len(report.DeadLettered),
		"chunks", report.Chunks)
	return report, ctx.Err()
}

// runBatch indexes one batch. On terminal failure a multi-document batch is
// split per document and each part retried; single-document parts go to the
// dead-letter repository.
func (p *Pipeline) runBatch(ctx context.Context, batch []core.Chunk, tr *tracker) {
	start := time.Now()
	attempts, err := p.indexer.index(ctx, batch)
	p.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		tr.succeeded(batch)
		p.metrics.BatchesTotal.WithLabelValues(outcomeStored).Inc()
		p.metrics.ChunksTotal.Add(float64(len(batch)))
		return
	}

	if ctx.Err() != nil {
		tr.failed(batch, err)
		p.metrics.BatchesTotal.WithLabelValues(outcomeAborted).Inc()
		return
	}

	if parts := splitByDocument(batch); len(parts) > 1 {
		p.logger.Warn("batch failed, retrying per document", "documents", len(parts), "chunks", len(batch), "err", err)
		p.metrics.BatchesTotal.WithLabelValues(outcomeSplit).Inc()
		for _, part := range parts {
			p.runBatch(ctx, part, tr)
		}
		return
	}

	dl := &core.DeadLetter{
		ID:           p.newID(),
		Chunks:       batch,
		ModelVersion: p.embedder.ModelVersion(),
		Reason:       err.Error(),
		Attempts:     attempts,
		CreatedAt:    time.Now().UTC(),
	}
	failure := fmt.Errorf("%w: %w", core.ErrIngestionBatchFailure, err)
	if putErr := p.deadLetters.PutDeadLetter(ctx, dl); putErr != nil {
		p.logger.Error("failed to save dead letter", "document_id", batch[0].DocumentID, "err", putErr)
		tr.failed(batch, errors.Join(failure, putErr))
		p.metrics.BatchesTotal.WithLabelValues(outcomeAborted).Inc()
		return
	}
	p.logger.Warn("batch dead-lettered",
		"dead_letter", dl.ID,
		"document_id", batch[0].DocumentID,
		"chunks", len(batch),
		"attempts", attempts,
		"err", err)
	tr.deadLettered(dl.ID, batch, failure)
	p.metrics.BatchesTotal.WithLabelValues(outcomeDeadLettered).Inc()
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
