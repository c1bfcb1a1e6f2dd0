// Command thothd is Thoth's ingestion daemon: it loads configuration,
// wires every component into a services.Core, runs the startup orphan
// scan, starts the directory watcher feeding the pipeline's worker
// pool, and blocks until signalled to shut down. The HTTP/WebSocket/
// MCP transports that would expose services.Core's operations to the
// outside world live elsewhere; this binary is the core pipeline
// process alone.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"thoth/internal/analysis"
	"thoth/internal/cache"
	"thoth/internal/config"
	"thoth/internal/discover"
	"thoth/internal/gateway"
	"thoth/internal/graph"
	"thoth/internal/identity"
	"thoth/internal/llm/providers"
	"thoth/internal/logging"
	"thoth/internal/observability"
	"thoth/internal/persistence/databases"
	"thoth/internal/pipeline"
	"thoth/internal/rag/embedder"
	"thoth/internal/rag/service"
	"thoth/internal/ragindex"
	"thoth/internal/relstore"
	"thoth/internal/render"
	"thoth/internal/resolve"
	"thoth/internal/services"
	"thoth/internal/vault"
	"thoth/internal/version"
	"thoth/internal/watch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "thothd: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Both logging stacks read the same path/level: logrus for the
	// application's own structured logs, zerolog (via observability)
	// for the LLM client wrappers that log through LoggerWithTrace.
	logging.Configure(cfg.LogPath, cfg.LogLevel)
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	log := logrus.NewEntry(logging.Log).WithField("component", "thothd")
	log.WithField("version", version.Version).Info("thothd: starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.OTel)
	if err != nil {
		log.WithError(err).Warn("thothd: otel init failed, continuing without observability")
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	core, cleanup, err := buildCore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer cleanup()

	if err := core.MigrateLegacyPaths(ctx, cfg.Watch.Dir); err != nil {
		log.WithError(err).Warn("thothd: legacy path migration failed, continuing")
	}

	if err := core.ScanOrphans(ctx); err != nil {
		log.WithError(err).Warn("thothd: startup orphan scan failed, continuing")
	}

	if err := core.StartWatcher(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer core.Monitor.Stop()

	log.WithField("watch_dir", cfg.Watch.Dir).Info("thothd: watching for new PDFs")
	core.Sched.Run(ctx)
	log.Info("thothd: shut down")
	return nil
}

// buildCore constructs every collaborator exactly once and wires them
// into a services.Core. Nothing is a package-level singleton.
func buildCore(ctx context.Context, cfg config.Config, log *logrus.Entry) (*services.Core, func(), error) {
	httpClient := observability.NewHTTPClient(nil)

	llmProvider, err := providers.Build(cfg, httpClient)
	if err != nil {
		return nil, nil, fmt.Errorf("build llm provider: %w", err)
	}

	contentCache, err := cache.NewFromConfig(ctx, cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("build cache: %w", err)
	}

	gw := gateway.New(cfg.Gateway, contentCache, llmProvider, httpClient)

	v, err := vault.New(ctx, cfg.Vault)
	if err != nil {
		return nil, nil, fmt.Errorf("build vault: %w", err)
	}

	store, err := relstore.New(ctx, cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("build relational store: %w", err)
	}

	mgr, err := databases.NewManager(ctx, cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("build search/vector/graph backends: %w", err)
	}

	emb := embedder.NewClient(cfg.Embedding, cfg.DB.Vector.Dimensions)
	ragSvc := service.New(mgr, service.WithEmbedder(emb))
	ragIdx := ragindex.New(ragSvc, gw, mgr, store, cfg.RAG, cfg.QA)

	gr := graph.New(store, mgr.Graph, ragIdx)

	eng := analysis.New(gw, cfg.Analysis.Model, cfg.Analysis.ContextTokens)
	resolver := resolve.New(gw)

	renderer, err := render.New("")
	if err != nil {
		return nil, nil, fmt.Errorf("build note renderer: %w", err)
	}

	pl := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Gateway:   gw,
		Vault:     v,
		Analysis:  eng,
		Resolver:  resolver,
		Renderer:  renderer,
		Graph:     gr,
		Store:     store,
		Citations: cfg.Citations,
		Log:       log.WithField("component", "pipeline"),
	})
	sched := pipeline.NewScheduler(pl, log.WithField("component", "scheduler"))

	discoveryModel := cfg.Discovery.Model
	if discoveryModel == "" {
		discoveryModel = cfg.Citations.Model
	}
	disc := discover.New(gw, discoveryModel)
	disc.Threshold = cfg.Discovery.Threshold

	monitor, err := watch.New(watch.Config{
		Dir:            cfg.Watch.Dir,
		DebounceMillis: cfg.Watch.DebounceMillis,
		StableChecks:   cfg.Watch.StableChecks,
	}, sched.Enqueue, seenFunc(ctx, store), log.WithField("component", "watch"))
	if err != nil {
		return nil, nil, fmt.Errorf("build watcher: %w", err)
	}

	core := services.New(services.Config{
		QAModel:         cfg.QA.Model,
		QAMinSimilarity: cfg.QA.MinSimilarity,
		QADefaultK:      cfg.RAG.DefaultK,
	}, services.Deps{
		Gateway:  gw,
		Vault:    v,
		Store:    store,
		Graph:    gr,
		RAG:      ragIdx,
		Resolver: resolver,
		Pipeline: pl,
		Sched:    sched,
		Discover: disc,
		Monitor:  monitor,
		Log:      log,
	})

	cleanup := func() {
		if err := pl.Close(); err != nil {
			log.WithError(err).Warn("thothd: pipeline close failed")
		}
		mgr.Close()
	}
	return core, cleanup, nil
}

// seenFunc lets the watcher's startup scan skip PDFs that already
// have an active ProcessingVersion for their content hash, without
// pulling internal/identity/internal/relstore into internal/watch
// itself (watch.SeenFunc only needs a path predicate).
func seenFunc(ctx context.Context, store relstore.Store) watch.SeenFunc {
	return func(path string) bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		contentHash := identity.PaperID("", "", data)
		p, ok, err := store.GetPaperByContentHash(ctx, contentHash)
		if err != nil || !ok {
			return false
		}
		_, active, err := store.GetActiveVersion(ctx, p.ID)
		return err == nil && active
	}
}
