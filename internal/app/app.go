package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	tclient "go.temporal.io/sdk/client"

	"paperchat/internal/chunker"
	"paperchat/internal/config"
	"paperchat/internal/conversation"
	"paperchat/internal/ingest"
	"paperchat/internal/providers"
	"paperchat/internal/rag"
	"paperchat/internal/storage"
	"paperchat/internal/util"
	"paperchat/internal/vector"
	"paperchat/internal/workflows"
)

// App is the assembled service graph shared by the API server, the worker
// and the CLI.
type App struct {
	Config     config.Config
	Docs       storage.DocumentStore
	Index      *vector.Index
	Gateway    *providers.Gateway
	Pipeline   *ingest.Pipeline
	Ingester   ingest.Ingester
	Sessions   *conversation.Store
	Answerer   *rag.Answerer
	Summarizer *rag.Summarizer

	closers []func() error
}

type Option func(*options)

type options struct {
	forceInline bool
}

// Inline keeps ingestion in-process even when temporal mode is configured.
// The worker uses it since it is the one executing the workflows.
func Inline() Option {
	return func(o *options) { o.forceInline = true }
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (a *App, err error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	mgr, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	a.Gateway = providers.NewGateway(mgr, providers.GatewayOptionsFromConfig(cfg))

	store, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	a.Index = vector.NewIndex(a.Gateway, store)
	a.closers = append(a.closers, a.Index.Close)

	a.Pipeline = ingest.NewPipeline(a.Docs, a.Index, ingest.Options{
		UploadDir:   cfg.UploadDir,
		ReportDir:   cfg.IndexDir,
		Chunking:    chunker.Options{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		Parallelism: cfg.ReprocessParallelism,
	})
	a.Ingester = a.Pipeline
	if cfg.IngestMode == "temporal" && !o.forceInline {
		tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace})
		if err != nil {
			return nil, fmt.Errorf("dial temporal: %w", err)
		}
		a.closers = append(a.closers, func() error { tc.Close(); return nil })
		a.Ingester = workflows.NewDispatcher(tc, cfg.TemporalTaskQueue, cfg.ReprocessParallelism)
	}

	a.Sessions = conversation.NewStore(cfg.HistoryTurns, cfg.SessionTTL)
	a.Answerer = rag.NewAnswerer(a.Index, a.Gateway, a.Sessions, a.Docs, rag.AnswerOptions{
		TopK:             cfg.TopK,
		HistoryQuestions: cfg.RetrievalHistory,
		MaxTokens:        cfg.AnswerMaxTokens,
		Temperature:      cfg.Temperature,
	})
	a.Summarizer = rag.NewSummarizer(a.Index, a.Gateway, rag.SummaryOptions{
		Budget:      cfg.SummaryBudget,
		MaxTokens:   cfg.SummaryMaxTokens,
		Temperature: cfg.Temperature,
	})

	if cfg.UsesDefaultTokens() {
		log.Printf("[app] WARNING: default admin/public tokens in use; set PAPERCHAT_ADMIN_TOKEN and PAPERCHAT_PUBLIC_TOKEN")
	}
	log.Printf("[app] ready backend=%s ingest=%s embed=%s llm=%q", cfg.IndexBackend, cfg.IngestMode, a.Index.ModelID(), cfg.LLMProviders)
	return a, nil
}

func (a *App) openStores(ctx context.Context) (vector.Store, error) {
	cfg := a.Config
	switch cfg.IndexBackend {
	case "postgres":
		db, err := storage.NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		repo := storage.NewDocumentRepo(db)
		if err := repo.Migrate(ctx); err != nil {
			return nil, err
		}
		pg := vector.NewPGStore(db.Pool, cfg.EmbedDim)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		a.Docs = repo
		return pg, nil
	case "bolt", "memory":
		reg, err := storage.OpenFileRegistry(filepath.Join(cfg.UploadDir, "documents.json"))
		if err != nil {
			return nil, err
		}
		a.Docs = reg
		if cfg.IndexBackend == "memory" {
			return vector.NewMemoryStore(), nil
		}
		if err := util.EnsureDir(cfg.IndexDir); err != nil {
			return nil, err
		}
		return vector.OpenBoltStore(filepath.Join(cfg.IndexDir, "index.db"))
	}
	return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
}

// Close releases stores and clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
