package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/conductor"
	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/blob"
	"github.com/poiesic/conductor/config"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/ingestion"
	"github.com/poiesic/conductor/ratelimit"
	"github.com/poiesic/conductor/reembed"
	"github.com/poiesic/conductor/retry"
	"github.com/poiesic/conductor/storage"
	"github.com/poiesic/conductor/storage/badger"
)

func withRuntime(c *cli.Context, reg prometheus.Registerer, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("error during shutdown", "err", err)
		}
	}()
	return fn(ctx, rt)
}

func parseFilters(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(raw))
	for _, f := range raw {
		k, v, ok := strings.Cut(f, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key=value", f)
		}
		filters[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return filters, nil
}

// collectDocuments reads each file argument and every file under each
// directory argument. Files are keyed by their path; directory entries by
// their path relative to the directory.
func collectDocuments(ctx context.Context, paths []string) ([]*core.SourceDocument, error) {
	var docs []*core.SourceDocument
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, err
			}
			docs = append(docs, ingestion.DocumentFromObject(filepath.ToSlash(filepath.Clean(p)), data))
			continue
		}

		dir, err := blob.NewDirStore(p)
		if err != nil {
			return nil, err
		}
		keys, err := dir.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			data, err := dir.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			docs = append(docs, ingestion.DocumentFromObject(key, data))
		}
	}
	return docs, nil
}

func printReport(w io.Writer, report *ingestion.Report) {
	fmt.Fprintf(w, "accepted: %d, failed: %d, dead-lettered batches: %d, chunks stored: %d\n",
		len(report.Accepted), len(report.Failed), len(report.DeadLettered), report.Chunks)
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  failed %s: %v\n", f.DocumentID, f.Err)
	}
	for _, id := range report.DeadLettered {
		fmt.Fprintf(w, "  dead letter %s\n", id)
	}
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file or directory is required")
	}
	return withRuntime(c, nil, func(ctx context.Context, rt *runtime) error {
		docs, err := collectDocuments(ctx, c.Args().Slice())
		if err != nil {
			return err
		}
		report, err := rt.assistant.Ingest(ctx, docs)
		if report != nil {
			printReport(c.App.Writer, report)
		}
		return err
	})
}

func askCommand(c *cli.Context) error {
	message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if message == "" {
		return errors.New("a message is required")
	}
	filters, err := parseFilters(c.StringSlice("filter"))
	if err != nil {
		return err
	}
	return withRuntime(c, nil, func(ctx context.Context, rt *runtime) error {
		resp, err := rt.assistant.Ask(ctx, conductor.Request{Message: message, Filters: filters})
		if err != nil {
			return err
		}
		w := c.App.Writer
		if c.Bool("show-plan") && resp.Plan != nil && resp.Result != nil {
			printPlan(w, resp.Plan, resp.Result)
		}
		fmt.Fprintln(w, resp.Turn.FinalAnswer)
		if len(resp.Turn.CitedChunkIDs) > 0 {
			fmt.Fprintf(w, "\nSources: %s\n", strings.Join(resp.Turn.CitedChunkIDs, ", "))
		}
		if resp.Turn.Cached {
			fmt.Fprintln(w, "(cached)")
		}
		return nil
	})
}

func printPlan(w io.Writer, plan *core.ExecutionPlan, result *core.PlanResult) {
	fmt.Fprintf(w, "plan %s (%s)\n", plan.ID, result.Status)
	order, err := plan.TopologicalOrder()
	if err != nil {
		return
	}
	for _, id := range order {
		node, _ := plan.Node(id)
		status := core.NodePending
		if r := result.Results[id]; r != nil {
			status = r.Status
		}
		line := fmt.Sprintf("  %s %s [%s]", id, node.Capability, status)
		if deps := node.Dependencies(); len(deps) > 0 {
			names := make([]string, len(deps))
			for i, d := range deps {
				names[i] = string(d)
			}
			line += " after " + strings.Join(names, ", ")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a query is required")
	}
	filters, err := parseFilters(c.StringSlice("filter"))
	if err != nil {
		return err
	}
	return withRuntime(c, nil, func(ctx context.Context, rt *runtime) error {
		k := c.Int("limit")
		if k == 0 {
			k = rt.cfg.Retrieval.TopK
		}
		results, err := rt.assistant.Search(ctx, query, k, filters)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(c.App.Writer, "no results")
			return nil
		}
		for _, r := range results {
			text, _, _ := strings.Cut(strings.TrimSpace(r.Chunk.Text), "\n")
			fmt.Fprintf(c.App.Writer, "%.4f  %s  %s\n", r.Score, r.Chunk.ID, text)
		}
		return nil
	})
}

func redriveCommand(c *cli.Context) error {
	return withRuntime(c, nil, func(ctx context.Context, rt *runtime) error {
		report, err := rt.assistant.Redrive(ctx)
		if report != nil {
			printReport(c.App.Writer, report)
		}
		return err
	})
}

func reembedCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openReembedStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	aiConfig := cfg.ProviderConfig()
	aiConfig.EmbeddingModel = c.String("embedding-model")
	if host := c.String("embedding-host"); host != "" {
		aiConfig.EmbeddingHost = host
		aiConfig.Normalize()
	}
	if err := aiConfig.Validate(); err != nil {
		return fmt.Errorf("invalid AI configuration: %w", err)
	}
	provider, err := newProvider(aiConfig)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer provider.Close()

	limiter, err := ratelimit.PerMinute(cfg.Ingestion.RequestsPerMinute)
	if err != nil {
		return err
	}
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		Policy: retry.Policy{
			MaxAttempts: c.Int("max-retries"),
			BaseDelay:   c.Duration("retry-delay"),
			MaxDelay:    30 * time.Second,
			Retryable:   core.IsTransient,
		},
		Limiter: limiter,
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}

	return runReembed(ctx, store, provider.Embedder(), reembedConfig, c.App.Writer)
}

func runReembed(ctx context.Context, store reembed.Store, embedder ai.Embedder, cfg *reembed.Config, out io.Writer) error {
	r, err := reembed.NewReembedder(store, embedder, cfg, out)
	if err != nil {
		return err
	}
	_, err = r.Run(ctx)
	return err
}

// openReembedStore opens the configured knowledge store on its own, without
// an assistant.
func openReembedStore(cfg *config.Config) (reembed.Store, func(), error) {
	var (
		store   storage.KnowledgeStore
		closeFn func() error
	)
	knowledge, err := openKnowledge(cfg)
	if err != nil {
		return nil, nil, err
	}
	if knowledge != nil {
		store, closeFn = knowledge, knowledge.Close
	} else {
		stores, err := badger.OpenStores(dataPath(cfg), cfg.Storage.InMemory)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = stores.Knowledge, stores.Close
	}

	closeStore := func() {
		if err := closeFn(); err != nil {
			slog.Error("error closing knowledge store", "err", err)
		}
	}
	rs, ok := store.(reembed.Store)
	if !ok {
		closeStore()
		return nil, nil, fmt.Errorf("storage backend %q cannot list stored chunks", cfg.Storage.Backend)
	}
	return rs, closeStore, nil
}

func watchCommand(c *cli.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return withRuntime(c, reg, func(ctx context.Context, rt *runtime) error {
		dir := c.String("dir")
		if dir == "" {
			dir = rt.cfg.Watch.Dir
		}
		if dir == "" {
			return errors.New("a directory to watch is required (--dir or watch.dir)")
		}
		store, err := blob.NewDirStore(dir, blob.WithSettle(rt.cfg.Watch.Settle), blob.WithLogger(slog.Default()))
		if err != nil {
			return err
		}

		addr := c.String("metrics-addr")
		if addr == "" {
			addr = rt.cfg.Watch.MetricsAddr
		}
		if addr != "" {
			srv := serveMetrics(addr, reg)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}

		if c.Bool("initial") {
			docs, err := collectDocuments(ctx, []string{dir})
			if err != nil {
				return err
			}
			report, err := rt.assistant.Ingest(ctx, docs)
			if report != nil {
				printReport(c.App.Writer, report)
			}
			if err != nil {
				return err
			}
		}

		notes, err := store.Watch(ctx)
		if err != nil {
			return err
		}
		go collectGarbage(ctx, rt.assistant, gcInterval)
		slog.Info("watching for documents", "dir", store.Root())
		err = rt.assistant.Pipeline().Trigger(ctx, store, notes)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// gcInterval is how often a long-running watch reclaims badger value log
// space.
const gcInterval = time.Hour

func collectGarbage(ctx context.Context, a *conductor.Assistant, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.CollectGarbage(); err != nil {
				slog.Warn("value log garbage collection failed", "err", err)
			}
		}
	}
}

func serveMetrics(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return srv
}
