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


// Package conductor wires the ingestion, retrieval and orchestration
// components into a single Assistant.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/ai/openai"
	"github.com/poiesic/conductor/cache"
	"github.com/poiesic/conductor/capability"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/ingestion"
	"github.com/poiesic/conductor/planner"
	"github.com/poiesic/conductor/retrieval"
	"github.com/poiesic/conductor/scheduler"
	"github.com/poiesic/conductor/storage"
	"github.com/poiesic/conductor/storage/badger"
	"github.com/poiesic/conductor/synth"
)

// Defaults applied when the corresponding option is not given.
const (
	DefaultRetrieveLimit = 5
	DefaultMaxTokens     = 512
)

// Request is one user turn.
type Request struct {
	Message string
	// Filters restrict every retrieve step of the turn to chunks whose
	// metadata matches.
	Filters      map[string]string
	Conversation []core.ConversationTurn
}

// Response carries the recorded turn and, unless it was served from the
// cache, the plan that produced it.
type Response struct {
	Turn     core.ConversationTurn
	Plan     *core.ExecutionPlan
	Result   *core.PlanResult
	Degraded bool
}

// Assistant answers requests over an indexed knowledge base.
type Assistant struct {
	stores    *badger.Stores
	knowledge storage.KnowledgeStore
	provider  ai.AIProvider
	pipeline  *ingestion.Pipeline
	engine    *retrieval.Engine
	registry  *capability.Registry
	planner   planner.Planner
	scheduler *scheduler.Scheduler
	cache     *cache.ResponseCache
	synth     *synth.Synthesizer
	cacheTTL  time.Duration
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// Option configures an Assistant.
type Option func(*options)

type options struct {
	aiConfig      *ai.Config
	provider      ai.AIProvider
	knowledge     storage.KnowledgeStore
	planner       planner.Planner
	executors     []capability.Executor
	registryOpts  []capability.Option
	retrievalOpts []retrieval.Option
	ingestOpts    []ingestion.Option
	schedOpts     []scheduler.Option
	cacheTTL      time.Duration
	retrieveLimit int
	maxTokens     int
	logger        *slog.Logger
}

// WithAIConfig sets the provider configuration used when no provider is given.
func WithAIConfig(cfg *ai.Config) Option {
	return func(o *options) {
		o.aiConfig = cfg
	}
}

// WithProvider uses provider for embeddings and completions. The Assistant
// closes it on Close.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithKnowledgeStore replaces the badger knowledge store. The Assistant
// closes it on Close.
func WithKnowledgeStore(store storage.KnowledgeStore) Option {
	return func(o *options) {
		o.knowledge = store
	}
}

// WithPlanner replaces the rule-based planner.
func WithPlanner(p planner.Planner) Option {
	return func(o *options) {
		o.planner = p
	}
}

// WithExecutors registers executors next to the built-in retrieve and
// summarize executors.
func WithExecutors(execs ...capability.Executor) Option {
	return func(o *options) {
		o.executors = append(o.executors, execs...)
	}
}

// WithRegistryOptions configures the capability registry.
func WithRegistryOptions(opts ...capability.Option) Option {
	return func(o *options) {
		o.registryOpts = append(o.registryOpts, opts...)
	}
}

// WithRetrievalOptions configures the retrieval engine.
func WithRetrievalOptions(opts ...retrieval.Option) Option {
	return func(o *options) {
		o.retrievalOpts = append(o.retrievalOpts, opts...)
	}
}

// WithIngestionOptions configures the ingestion pipeline.
func WithIngestionOptions(opts ...ingestion.Option) Option {
	return func(o *options) {
		o.ingestOpts = append(o.ingestOpts, opts...)
	}
}

// WithSchedulerOptions configures the scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *options) {
		o.schedOpts = append(o.schedOpts, opts...)
	}
}

// WithCacheTTL sets how long answers are cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.cacheTTL = ttl
	}
}

// WithRetrieveLimit sets how many chunks a retrieve step returns by default.
func WithRetrieveLimit(k int) Option {
	return func(o *options) {
		o.retrieveLimit = k
	}
}

// WithMaxTokens bounds completions made by summarize steps and answer synthesis.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		o.maxTokens = n
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New opens an Assistant whose badger data lives at path. An empty path
// keeps everything in memory.
func New(path string, opts ...Option) (*Assistant, error) {
	o := &options{
		aiConfig:      ai.DefaultConfig(),
		cacheTTL:      cache.DefaultTTL,
		retrieveLimit: DefaultRetrieveLimit,
		maxTokens:     DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	stores, err := badger.OpenStores(path, path == "", badger.WithBackendLogger(o.logger))
	if err != nil {
		return nil, err
	}
	a := &Assistant{
		stores:    stores,
		knowledge: o.knowledge,
		provider:  o.provider,
		cacheTTL:  o.cacheTTL,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    o.logger.With("component", "assistant"),
	}
	if a.knowledge == nil {
		a.knowledge = stores.Knowledge
	}
	if err := a.build(o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Assistant) build(o *options) error {
	var err error
	if a.provider == nil {
		if a.provider, err = openai.NewProvider(o.aiConfig, openai.WithLogger(o.logger)); err != nil {
			return err
		}
	}
	embedder := a.provider.Embedder()
	completer := a.provider.Completer()

	ingestOpts := append([]ingestion.Option{ingestion.WithLogger(o.logger)}, o.ingestOpts...)
	if a.pipeline, err = ingestion.NewPipeline(a.knowledge, a.stores.DeadLetters, embedder, ingestOpts...); err != nil {
		return err
	}

	retrievalOpts := append([]retrieval.Option{retrieval.WithLogger(o.logger)}, o.retrievalOpts...)
	if a.engine, err = retrieval.NewEngine(a.knowledge, embedder, retrievalOpts...); err != nil {
		return err
	}

	a.registry = capability.NewRegistry(append([]capability.Option{capability.WithLogger(o.logger)}, o.registryOpts...)...)
	retrieve, err := capability.NewRetrieveExecutor(a.engine, o.retrieveLimit)
	if err != nil {
		return err
	}
	summarize, err := capability.NewSummarizeExecutor(completer, o.maxTokens)
	if err != nil {
		return err
	}
	for _, exec := range append([]capability.Executor{retrieve, summarize}, o.executors...) {
		if err := a.registry.Register(exec); err != nil {
			return err
		}
	}

	a.planner = o.planner
	if a.planner == nil {
		a.planner = planner.NewRulePlanner(planner.WithLogger(o.logger))
	}

	schedOpts := append([]scheduler.Option{scheduler.WithLogger(o.logger)}, o.schedOpts...)
	if a.scheduler, err = scheduler.NewScheduler(a.registry, schedOpts...); err != nil {
		return err
	}

	if a.cache, err = cache.New(a.stores.Cache, cache.WithDefaultTTL(o.cacheTTL), cache.WithLogger(o.logger)); err != nil {
		return err
	}
	a.synth = synth.New(synth.WithCompleter(completer, o.maxTokens), synth.WithLogger(o.logger))
	return nil
}

// Close releases worker pools and closes the provider and stores.
func (a *Assistant) Close() error {
	if a.scheduler != nil {
		a.scheduler.Release()
	}
	if a.pipeline != nil {
		a.pipeline.Release()
	}

	var errs []error
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if a.knowledge != nil && a.knowledge != storage.KnowledgeStore(a.stores.Knowledge) {
		if err := a.knowledge.Close(); err != nil {
			a.logger.Error("error closing knowledge store", "err", err)
			errs = append(errs, err)
		}
	}
	if err := a.stores.Close(); err != nil {
		a.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Ask answers one user turn. Completed plans without side effects are
// cached; a repeated request within the TTL is answered from the cache
// without planning.
func (a *Assistant) Ask(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", core.ErrValidation)
	}

	fingerprint := cache.Fingerprint(req.Message, req.Filters)
	entry, hit, err := a.cache.Get(ctx, fingerprint)
	if err != nil {
		a.logger.Warn("cache lookup failed", "err", err)
	}
	if hit {
		a.logger.Debug("answer served from cache", "fingerprint", fingerprint)
		return &Response{Turn: core.ConversationTurn{
			TurnID:        a.newID(),
			UserMessage:   req.Message,
			PlanStatus:    core.PlanCompleted,
			FinalAnswer:   entry.Answer,
			CitedChunkIDs: entry.CitedChunkIDs,
			Cached:        true,
			CreatedAt:     a.now().UTC(),
		}}, nil
	}

	plan, err := a.planner.Plan(ctx, req.Message, req.Conversation)
	if err != nil {
		return nil, err
	}
	applyFilters(plan, req.Filters)

	result, err := a.scheduler.Execute(ctx, plan)
	if err != nil {
		return nil, err
	}
	answer, err := a.synth.Synthesize(ctx, plan, result)
	if err != nil {
		return nil, err
	}

	turn := core.ConversationTurn{
		TurnID:        a.newID(),
		UserMessage:   req.Message,
		PlanID:        plan.ID,
		PlanStatus:    result.Status,
		FinalAnswer:   answer.Text,
		CitedChunkIDs: answer.CitedChunkIDs,
		CreatedAt:     a.now().UTC(),
	}
	if result.Status == core.PlanCompleted && !sideEffecting(plan) {
		if err := a.cache.Put(ctx, fingerprint, answer.Text, answer.CitedChunkIDs, a.cacheTTL); err != nil {
			a.logger.Warn("failed to cache answer", "plan_id", plan.ID, "err", err)
		}
	}
	a.logger.Info("turn answered",
		"plan_id", plan.ID,
		"status", result.Status,
		"nodes", len(plan.Nodes),
		"cited", len(answer.CitedChunkIDs))
	return &Response{Turn: turn, Plan: plan, Result: result, Degraded: answer.Degraded}, nil
}

// Ingest indexes docs into the knowledge store.
func (a *Assistant) Ingest(ctx context.Context, docs []*core.SourceDocument) (*ingestion.Report, error) {
	return a.pipeline.Ingest(ctx, docs)
}

// Redrive replays dead-lettered embedding batches.
func (a *Assistant) Redrive(ctx context.Context) (*ingestion.Report, error) {
	return a.pipeline.Redrive(ctx)
}

// Search runs a hybrid retrieval without planning.
func (a *Assistant) Search(ctx context.Context, query string, k int, filters map[string]string) ([]*core.ScoredChunk, error) {
	return a.engine.Retrieve(ctx, query, k, filters)
}

// Pipeline returns the ingestion pipeline.
func (a *Assistant) Pipeline() *ingestion.Pipeline {
	return a.pipeline
}

// KnowledgeStore returns the store chunks are indexed in.
func (a *Assistant) KnowledgeStore() storage.KnowledgeStore {
	return a.knowledge
}

// CollectGarbage reclaims value log space in the badger database and
// returns the number of files rewritten.
func (a *Assistant) CollectGarbage() (int, error) {
	return a.stores.Backend.CollectGarbage(badger.DefaultGCDiscardRatio)
}

// Registry returns the capability registry.
func (a *Assistant) Registry() *capability.Registry {
	return a.registry
}

// Embedder returns the provider's embedder.
func (a *Assistant) Embedder() ai.Embedder {
	return a.provider.Embedder()
}

// applyFilters copies request filters onto every retrieve node that does not
// set the same filter itself.
func applyFilters(plan *core.ExecutionPlan, filters map[string]string) {
	if len(filters) == 0 {
		return
	}
	for i := range plan.Nodes {
		n := &plan.Nodes[i]
		if n.Capability != core.CapabilityRetrieve {
			continue
		}
		if n.Input == nil {
			n.Input = make(map[string]string, len(filters))
		}
		for k, v := range filters {
			key := capability.FilterPrefix + k
			if _, set := n.Input[key]; !set {
				n.Input[key] = v
			}
		}
	}
}

func sideEffecting(plan *core.ExecutionPlan) bool {
	for _, n := range plan.Nodes {
		if n.Capability.SideEffecting() {
			return true
		}
	}
	return false
}
