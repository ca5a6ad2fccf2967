package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/katanaquant/ragkb/internal/chunk"
	"github.com/katanaquant/ragkb/internal/config"
	"github.com/katanaquant/ragkb/internal/embed"
	"github.com/katanaquant/ragkb/internal/extract"
	"github.com/katanaquant/ragkb/internal/httpapi"
	"github.com/katanaquant/ragkb/internal/index"
	"github.com/katanaquant/ragkb/internal/logging"
	"github.com/katanaquant/ragkb/internal/pipeline"
	"github.com/katanaquant/ragkb/internal/queue"
	"github.com/katanaquant/ragkb/internal/search"
	"github.com/katanaquant/ragkb/internal/security"
	"github.com/katanaquant/ragkb/internal/selfheal"
	"github.com/katanaquant/ragkb/internal/store"
	"github.com/katanaquant/ragkb/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var addr string
	var offline bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP query and indexing server",
		Long: `Start the HTTP server exposing hybrid search, document CRUD, and
indexing queue control over the current project's index.

On startup, serve runs the self-heal pass (C8): resuming in-progress
files, repairing orphaned ledger rows, and checking index consistency.
It then watches the project for changes and incrementally reindexes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, addr, offline)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, e.g. :8080 (overrides config)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (skip model download)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, addrFlag string, offline bool) error {
	if cleanup, err := logging.SetupServerMode(); err == nil {
		defer cleanup()
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	addr := cfg.HTTP.Addr
	if addrFlag != "" {
		addr = addrFlag
	}
	if addr == "" {
		addr = ":8080"
	}

	dataDir := filepath.Join(root, ".ragkb")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	deps, err := buildServeDeps(ctx, cfg, root, dataDir, offline)
	if err != nil {
		return err
	}
	defer deps.Close()

	if cfg.SelfHeal.AutoSelfHeal {
		runner, err := selfheal.NewRunner(selfheal.Dependencies{
			Ledger:      deps.Metadata,
			Metadata:    deps.Metadata,
			Vector:      deps.Vector,
			BM25:        deps.BM25,
			Embedder:    deps.Embedder,
			Coordinator: deps.Coordinator,
			ProjectID:   deps.ProjectID,
			RootPath:    root,
		})
		if err != nil {
			return fmt.Errorf("failed to build self-heal runner: %w", err)
		}
		report, err := runner.Run(ctx)
		if err != nil {
			slog.Error("self-heal pass failed", slog.String("error", err.Error()))
		} else {
			slog.Info("self-heal complete",
				slog.Int("resumed", report.Resumed),
				slog.Int("orphans_repaired", report.OrphansRepaired),
				slog.Int("empty_docs_purged", report.EmptyDocsPurged),
				slog.Int("inconsistencies", len(report.Inconsistencies)))
		}
	}

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	defer pipelineCancel()

	pipelineErrCh := make(chan error, 1)
	go func() { pipelineErrCh <- deps.Coordinator.Run(pipelineCtx) }()

	if cfg.Watch.Enabled {
		if err := startWatcher(pipelineCtx, cfg, root, deps); err != nil {
			slog.Warn("failed to start file watcher", slog.String("error", err.Error()))
		}
	}

	server, err := httpapi.NewServer(httpapi.Dependencies{
		Engine:      deps.Engine,
		Coordinator: deps.Coordinator,
		Queue:       deps.Queue,
		Metadata:    deps.Metadata,
		Ledger:      deps.Metadata,
		Checker:     deps.Checker,
		ProjectID:   deps.ProjectID,
	})
	if err != nil {
		return fmt.Errorf("failed to build HTTP server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ragkb serving %s on %s\n", root, addr)
		serveErrCh <- httpSrv.ListenAndServe()
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stopCh:
	case err := <-serveErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case err := <-pipelineErrCh:
		if err != nil {
			slog.Error("indexing pipeline stopped unexpectedly", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	deps.Coordinator.Stop()
	pipelineCancel()

	return nil
}

// serveDeps bundles the collaborators runServe wires together, so their
// lifetimes can be closed uniformly on shutdown.
type serveDeps struct {
	Metadata    *store.SQLiteStore
	BM25        store.BM25Index
	Vector      store.VectorStore
	Embedder    embed.Embedder
	Queue       *queue.Queue
	Coordinator *pipeline.Coordinator
	Engine      *search.Engine
	Checker     *index.ConsistencyChecker
	ProjectID   string
}

func (d *serveDeps) Close() {
	if d.Embedder != nil {
		_ = d.Embedder.Close()
	}
	if d.Vector != nil {
		_ = d.Vector.Close()
	}
	if d.BM25 != nil {
		_ = d.BM25.Close()
	}
	if d.Metadata != nil {
		_ = d.Metadata.Close()
	}
}

func buildServeDeps(ctx context.Context, cfg *config.Config, root, dataDir string, offline bool) (*serveDeps, error) {
	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata store: %w", err)
	}

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.LexicalBackend)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to create BM25 index: %w", err)
	}

	var embedder embed.Embedder
	if offline {
		embedder = embed.NewStaticEmbedder768()
	} else {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedCtx, embedCancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err = embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
		embedCancel()
		if err != nil {
			_ = bm25.Close()
			_ = metadata.Close()
			return nil, fmt.Errorf("embedder initialization failed: %w", err)
		}
	}

	vectorCfg := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewVectorStoreWithBackend(vectorCfg, cfg.Search.VectorBackend)
	if err != nil {
		_ = embedder.Close()
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	projectID := hashString(root)
	_ = metadata.SaveProject(ctx, &store.Project{
		ID:       projectID,
		Name:     filepath.Base(root),
		RootPath: root,
	})

	q := queue.New()

	coordinator, err := pipeline.NewCoordinator(pipeline.Dependencies{
		Queue:           q,
		Metadata:        metadata,
		Vector:          vector,
		BM25:            bm25,
		Ledger:          metadata,
		Extractor:       extract.NewDefaultRegistry(),
		Scanner:         security.NoOpScanner{},
		Embedder:        embedder,
		CodeChunker:     chunk.NewCodeChunker(),
		MarkdownChunker: chunk.NewMarkdownChunker(),
		ProjectID:       projectID,
		RootPath:        root,
	}, pipeline.DefaultConfig())
	if err != nil {
		_ = vector.Close()
		_ = embedder.Close()
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to build indexing pipeline: %w", err)
	}

	engineCfg := search.DefaultConfig()
	engineCfg.CacheEnabled = cfg.Cache.Enabled
	engineCfg.CacheMaxSize = cfg.Cache.MaxSize

	var engineOpts []search.EngineOption
	if cfg.Expansion.Enabled {
		engineOpts = append(engineOpts, search.WithExpander(search.NewLLMExpander(search.LLMExpanderConfig{
			Host:     cfg.Embeddings.OllamaHost,
			Model:    cfg.Expansion.Model,
			Enabled:  true,
			CacheDir: filepath.Join(dataDir, "expansion_cache"),
		})))
	}
	if cfg.Reranking.Enabled {
		engineOpts = append(engineOpts, search.WithReranker(search.NewHTTPReranker(cfg.Embeddings.OllamaHost, cfg.Reranking.Model)))
		engineOpts = append(engineOpts, search.WithRerankTopN(cfg.Reranking.TopN))
	}

	engine, err := search.NewEngine(bm25, vector, embedder, metadata, engineCfg, engineOpts...)
	if err != nil {
		_ = vector.Close()
		_ = embedder.Close()
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to build search engine: %w", err)
	}

	checker := index.NewConsistencyChecker(metadata, bm25, vector)

	return &serveDeps{
		Metadata:    metadata,
		BM25:        bm25,
		Vector:      vector,
		Embedder:    embedder,
		Queue:       q,
		Coordinator: coordinator,
		Engine:      engine,
		Checker:     checker,
		ProjectID:   projectID,
	}, nil
}

// startWatcher wires the filesystem watcher to an index.Coordinator, which
// handles gitignore/config reconciliation and hands file content changes off
// to the pipeline coordinator (index.CoordinatorConfig.Pipeline) for
// chunking and embedding.
func startWatcher(ctx context.Context, cfg *config.Config, root string, deps *serveDeps) error {
	opts := watcher.DefaultOptions()
	if cfg.Watch.DebounceSeconds > 0 {
		opts.DebounceWindow = time.Duration(cfg.Watch.DebounceSeconds) * time.Second
	}

	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(ctx, root); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	reconciler := index.NewCoordinator(index.CoordinatorConfig{
		ProjectID:       deps.ProjectID,
		RootPath:        root,
		DataDir:         filepath.Join(root, ".ragkb"),
		Engine:          deps.Engine,
		Pipeline:        deps.Coordinator,
		Metadata:        deps.Metadata,
		CodeChunker:     chunk.NewCodeChunker(),
		MDChunker:       chunk.NewMarkdownChunker(),
		ExcludePatterns: cfg.Paths.Exclude,
	})

	if err := reconciler.ReconcileOnStartup(ctx); err != nil {
		slog.Warn("startup reconciliation failed", slog.String("error", err.Error()))
	}

	go func() {
		defer func() { _ = w.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case events, ok := <-w.Events():
				if !ok {
					return
				}
				if err := reconciler.HandleEvents(ctx, events); err != nil {
					slog.Warn("failed to handle watcher events", slog.String("error", err.Error()))
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				slog.Warn("watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}
