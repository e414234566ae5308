package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/conductor"
	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/ai/openai"
	"github.com/poiesic/conductor/capability"
	"github.com/poiesic/conductor/config"
	"github.com/poiesic/conductor/ingestion"
	"github.com/poiesic/conductor/planner"
	"github.com/poiesic/conductor/ratelimit"
	"github.com/poiesic/conductor/retrieval"
	"github.com/poiesic/conductor/retry"
	"github.com/poiesic/conductor/scheduler"
	"github.com/poiesic/conductor/storage"
	"github.com/poiesic/conductor/storage/chromem"
	"github.com/poiesic/conductor/storage/qdrant"
)

// newProvider builds the AI provider. Tests replace it.
var newProvider = func(cfg *ai.Config) (ai.AIProvider, error) {
	return openai.NewProvider(cfg, openai.WithLogger(slog.Default()))
}

// loadConfig reads the file named by --config. The config's log level
// applies unless --log-level was given.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if !c.IsSet("log-level") {
		level, err := parseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		setDefaultLogger(level)
	}
	return cfg, nil
}

// dataPath is where badger keeps dead letters, cache entries and, for the
// badger backend, chunks. Empty means in memory.
func dataPath(cfg *config.Config) string {
	if cfg.Storage.InMemory {
		return ""
	}
	return cfg.Storage.Path
}

// openKnowledge opens the configured non-badger knowledge store. It returns
// nil for the badger backend, which shares the assistant's badger database.
func openKnowledge(cfg *config.Config) (storage.KnowledgeStore, error) {
	logger := slog.Default()
	switch cfg.Storage.Backend {
	case config.BackendChromem:
		return chromem.Open(cfg.Storage.Chromem.Path, cfg.Storage.Chromem.Compress, chromem.WithLogger(logger))
	case config.BackendQdrant:
		q := cfg.Storage.Qdrant
		return qdrant.Dial(qdrant.Config{
			Host:       q.Host,
			Port:       q.Port,
			APIKey:     q.APIKey,
			UseTLS:     q.UseTLS,
			Collection: q.Collection,
		}, qdrant.WithLogger(logger))
	default:
		return nil, nil
	}
}

func ingestionPolicy(cfg *config.Config) retry.Policy {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Ingestion.MaxAttempts
	policy.BaseDelay = cfg.Ingestion.BaseDelay
	return policy
}

// runtime owns everything a command opened.
type runtime struct {
	cfg       *config.Config
	assistant *conductor.Assistant
	closers   []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openRuntime builds an Assistant from cfg. Metrics register with reg when
// it is non-nil.
func openRuntime(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*runtime, error) {
	logger := slog.Default()
	rt := &runtime{cfg: cfg}

	provider, err := newProvider(cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create AI provider: %w", err)
	}

	limiter, err := ratelimit.PerMinute(cfg.Ingestion.RequestsPerMinute)
	if err != nil {
		provider.Close()
		return nil, err
	}

	opts := []conductor.Option{
		conductor.WithProvider(provider),
		conductor.WithLogger(logger),
		conductor.WithCacheTTL(cfg.Cache.TTL),
		conductor.WithRetrieveLimit(cfg.Retrieval.TopK),
		conductor.WithMaxTokens(cfg.AI.MaxTokens),
		conductor.WithIngestionOptions(
			ingestion.WithRateLimiter(limiter),
			ingestion.WithBatchSize(cfg.Ingestion.BatchSize),
			ingestion.WithRetryPolicy(ingestionPolicy(cfg)),
			ingestion.WithMetrics(ingestion.NewMetrics(reg)),
		),
		conductor.WithRetrievalOptions(
			retrieval.WithWeights(cfg.Retrieval.VectorWeight, cfg.Retrieval.KeywordWeight),
			retrieval.WithCandidateFactor(cfg.Retrieval.CandidateFactor),
			retrieval.WithMinScore(cfg.Retrieval.MinScore),
		),
		conductor.WithSchedulerOptions(
			scheduler.WithPlanDeadline(cfg.Scheduler.PlanDeadline),
			scheduler.WithMetrics(scheduler.NewMetrics(reg)),
		),
	}
	if cfg.Ingestion.PoolSize > 0 {
		opts = append(opts, conductor.WithIngestionOptions(ingestion.WithPoolSize(cfg.Ingestion.PoolSize)))
	}
	if cfg.Scheduler.PoolSize > 0 {
		opts = append(opts, conductor.WithSchedulerOptions(scheduler.WithPoolSize(cfg.Scheduler.PoolSize)))
	}

	registryOpts := []capability.Option{capability.WithDefaultTimeout(cfg.Scheduler.NodeTimeout)}
	for kind, d := range cfg.CapabilityTimeouts() {
		registryOpts = append(registryOpts, capability.WithTimeout(kind, d))
	}
	opts = append(opts, conductor.WithRegistryOptions(registryOpts...))

	if cfg.Planner.Kind == config.PlannerLLM {
		p, err := planner.NewLLMPlanner(provider.Completer(), nil, planner.WithLogger(logger))
		if err != nil {
			provider.Close()
			return nil, err
		}
		opts = append(opts, conductor.WithPlanner(p))
	}

	executors, err := rt.externalExecutors(ctx, cfg, provider.Completer())
	if err != nil {
		provider.Close()
		rt.Close()
		return nil, err
	}
	opts = append(opts, conductor.WithExecutors(executors...))

	knowledge, err := openKnowledge(cfg)
	if err != nil {
		provider.Close()
		rt.Close()
		return nil, err
	}
	if knowledge != nil {
		opts = append(opts, conductor.WithKnowledgeStore(knowledge))
	}

	rt.assistant, err = conductor.New(dataPath(cfg), opts...)
	if err != nil {
		provider.Close()
		if knowledge != nil {
			knowledge.Close()
		}
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, rt.assistant.Close)
	return rt, nil
}

// externalExecutors builds the GitHub and NATS backed capabilities that cfg
// enables, each behind a circuit breaker.
func (r *runtime) externalExecutors(ctx context.Context, cfg *config.Config, completer ai.Completer) ([]capability.Executor, error) {
	logger := slog.Default()
	breaker := capability.DefaultBreakerConfig()
	var execs []capability.Executor

	if cfg.GitHub.Enabled() {
		client, err := capability.NewGitHubClient(ctx, cfg.GitHub.Token, cfg.GitHub.BaseURL)
		if err != nil {
			return nil, err
		}
		ticket, err := capability.NewTicketExecutor(client, cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.GitHub.Labels...)
		if err != nil {
			return nil, err
		}
		review, err := capability.NewReviewExecutor(client, completer, cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.AI.MaxTokens)
		if err != nil {
			return nil, err
		}
		execs = append(execs,
			capability.WithCircuitBreaker(ticket, breaker, logger),
			capability.WithCircuitBreaker(review, breaker, logger))
	}

	if cfg.NATS.Enabled() {
		nc, err := capability.ConnectNATS(cfg.NATS.URL, "conductor")
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() error {
			return nc.Drain()
		})
		msg, err := capability.NewMessageExecutor(nc, cfg.NATS.Subject)
		if err != nil {
			return nil, err
		}
		execs = append(execs, capability.WithCircuitBreaker(msg, breaker, logger))
	}
	return execs, nil
}
