package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

// Defaults for hybrid scoring.
const (
	DefaultK               = 5
	DefaultVectorWeight    = 0.7
	DefaultKeywordWeight   = 0.3
	DefaultCandidateFactor = 4
	DefaultMinScore        = 0.2
)

// Engine ranks stored chunks against a query by combined vector and keyword score.
// An Engine is safe for concurrent use.
type Engine struct {
	store           storage.KnowledgeStore
	embedder        ai.Embedder
	vectorWeight    float32
	keywordWeight   float32
	candidateFactor int
	minScore        float32
	logger          *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithWeights sets the vector and keyword score weights.
func WithWeights(vector, keyword float32) Option {
	return func(e *Engine) error {
		if vector < 0 || keyword < 0 || vector+keyword == 0 {
			return fmt.Errorf("%w: vector=%v keyword=%v", ErrInvalidWeights, vector, keyword)
		}
		e.vectorWeight, e.keywordWeight = vector, keyword
		return nil
	}
}

// WithCandidateFactor sets how many candidates per requested result are
// fetched from the store before re-ranking.
func WithCandidateFactor(factor int) Option {
	return func(e *Engine) error {
		if factor < 1 {
			return fmt.Errorf("candidate factor must be at least 1, got %d", factor)
		}
		e.candidateFactor = factor
		return nil
	}
}

// WithMinScore sets the score below which results are dropped.
func WithMinScore(score float32) Option {
	return func(e *Engine) error {
		e.minScore = score
		return nil
	}
}

// NewEngine creates a retrieval engine over store. embedder must be the
// embedder used when the store was populated.
func NewEngine(store storage.KnowledgeStore, embedder ai.Embedder, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrKnowledgeStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	e := &Engine{
		store:           store,
		embedder:        embedder,
		vectorWeight:    DefaultVectorWeight,
		keywordWeight:   DefaultKeywordWeight,
		candidateFactor: DefaultCandidateFactor,
		minScore:        DefaultMinScore,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "retrieval-engine")
	return e, nil
}

// Retrieve returns up to k chunks ranked by hybrid score. Chunks whose
// metadata does not match every filter are excluded. An empty result is not
// an error.
func (e *Engine) Retrieve(ctx context.Context, query string, k int, filters map[string]string) ([]*core.ScoredChunk, error) {
	return e.RetrieveWithMonitor(ctx, query, k, filters, nil)
}

// RetrieveWithMonitor is Retrieve with callbacks at each stage.
func (e *Engine) RetrieveWithMonitor(ctx context.Context, query string, k int, filters map[string]string, monitor Monitor) ([]*core.ScoredChunk, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", core.ErrValidation, k)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", core.ErrValidation)
	}

	monitor.Start(query, k)

	vector, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		e.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	candidates, err := e.candidates(ctx, vector, max(k*e.candidateFactor, k+1), k, filters)
	if err != nil {
		e.logger.Error("error querying knowledge store", "err", err)
		return nil, err
	}
	monitor.AfterVectorSearch(candidates)

	terms := queryTerms(query)
	results := make([]*core.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		kw := keywordScore(terms, c.Chunk)
		score := e.vectorWeight*c.Score + e.keywordWeight*kw
		monitor.Scored(c.Chunk, c.Score, kw, score)
		if score < e.minScore {
			continue
		}
		results = append(results, &core.ScoredChunk{Chunk: c.Chunk, Score: score})
	}

	core.SortScored(results)
	if len(results) > k {
		results = results[:k]
	}

	e.logger.Debug("retrieved", "query", query, "candidates", len(candidates), "results", len(results))
	monitor.Finish(results)
	return results, nil
}

// candidates returns the vector top-limit chunks plus the top-k synthetic
// chunks, such as table summaries, so keyword scoring can rank summaries that
// sit far from the query in vector space.
func (e *Engine) candidates(ctx context.Context, vector []float32, limit, k int, filters map[string]string) ([]*core.ScoredChunk, error) {
	q := core.VectorQuery{
		Vector:       vector,
		ModelVersion: e.embedder.ModelVersion(),
		Limit:        limit,
		Filters:      filters,
	}
	found, err := e.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if _, ok := filters[core.MetaSynthetic]; ok {
		return found, nil
	}

	q.Limit = k
	q.Filters = make(map[string]string, len(filters)+1)
	maps.Copy(q.Filters, filters)
	q.Filters[core.MetaSynthetic] = "true"
	synthetic, err := e.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(found))
	for _, c := range found {
		seen[c.Chunk.ID] = true
	}
	for _, c := range synthetic {
		if !seen[c.Chunk.ID] {
			seen[c.Chunk.ID] = true
			found = append(found, c)
		}
	}
	return found, nil
}
