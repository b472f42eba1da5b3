package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/leadnexus/internal/api"
	"github.com/kalambet/leadnexus/internal/config"
	"github.com/kalambet/leadnexus/internal/engine"
	"github.com/kalambet/leadnexus/internal/events"
	"github.com/kalambet/leadnexus/internal/extract"
	"github.com/kalambet/leadnexus/internal/fetch"
	"github.com/kalambet/leadnexus/internal/ingest"
	"github.com/kalambet/leadnexus/internal/leads"
	"github.com/kalambet/leadnexus/internal/memory"
	"github.com/kalambet/leadnexus/internal/retrieval"
	"github.com/kalambet/leadnexus/internal/storage"
)

// leadStore is what both storage backends provide to the services.
type leadStore interface {
	leads.Store
	ingest.LeadStore
	retrieval.LeadIndex
	api.Pinger
	io.Closer
}

// app is the fully wired service graph shared by serve and seed.
type app struct {
	cfg      config.Config
	store    *storage.Store
	leads    leadStore
	pipeline *ingest.Pipeline
	worker   *ingest.Worker
	service  *leads.Service
	searcher *retrieval.Searcher
	health   api.Pinger
	closers  []io.Closer
}

func setupLogging(cfg config.LogConfig, w io.Writer) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	creds := engine.Credentials{
		GoogleAPIKey:  cfg.Google.APIKey,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OllamaBaseURL: cfg.Ollama.BaseURL,
	}
	llm, err := engine.New(ctx, cfg.LLM.Provider, creds)
	if err != nil {
		return nil, fmt.Errorf("creating %s chat engine: %w", cfg.LLM.Provider, err)
	}
	embedEngine := llm
	if cfg.Embedding.Provider != cfg.LLM.Provider {
		embedEngine, err = engine.New(ctx, cfg.Embedding.Provider, creds)
		if err != nil {
			return nil, fmt.Errorf("creating %s embedding engine: %w", cfg.Embedding.Provider, err)
		}
	}
	a.track(llm)
	if embedEngine != llm {
		a.track(embedEngine)
	}
	if err := engine.EnsureReady(ctx, llm, []string{cfg.LLM.Model}, os.Stderr); err != nil {
		return nil, err
	}
	if err := engine.EnsureReady(ctx, embedEngine, []string{cfg.Embedding.Model}, os.Stderr); err != nil {
		return nil, err
	}

	// SQLite always holds memories and jobs; leads move to Postgres when
	// that driver is selected.
	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, a.store)
	a.leads = a.store
	a.health = a.store
	if cfg.Storage.Driver == "postgres" {
		pg, err := storage.OpenPostgres(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		a.closers = append(a.closers, pg)
		a.leads = pg
		a.health = pingAll{a.store, pg}
	}

	var cache retrieval.Cache = retrieval.NopCache{}
	if cfg.Cache.RedisAddr != "" {
		rc, err := retrieval.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.TTL)
		if err != nil {
			slog.Warn("embedding cache disabled", "addr", cfg.Cache.RedisAddr, "error", err)
		} else {
			a.closers = append(a.closers, rc)
			cache = rc
		}
	}
	embedder := retrieval.NewEmbedder(embedEngine, cfg.Embedding.Model, cache)

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.AMQPURL != "" {
		p, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			slog.Warn("event publishing disabled", "error", err)
		} else {
			a.closers = append(a.closers, p)
			publisher = p
		}
	}

	// Interface-typed nils keep the services' "memory disabled" checks honest.
	var (
		leadMemory   leads.Memory
		ingestMemory ingest.MemoryWriter
		searchMemory retrieval.ContextSource
	)
	if cfg.Memory.Enabled {
		mem := memory.NewService(memory.NewSQLiteStore(a.store.DB()), embedder)
		leadMemory, ingestMemory, searchMemory = mem, mem, mem
	}

	fetcher, err := newFetcher(cfg.Fetch)
	if err != nil {
		return nil, err
	}
	extractor := extract.NewExtractor(llm, cfg.LLM.Model, cfg.LLM.Timeout)

	a.pipeline = ingest.NewPipeline(fetcher, extractor, embedder, a.leads, ingestMemory, publisher, ingest.Options{
		Concurrency: cfg.Ingest.Concurrency,
		MultiLead:   cfg.Ingest.MultiLead,
	})
	a.worker = ingest.NewWorker(a.store, a.pipeline, cfg.Ingest.WorkerPoll)
	a.service = leads.NewService(a.leads, embedder, leadMemory, publisher)
	a.searcher = retrieval.NewSearcher(embedder, a.leads, searchMemory)

	ok = true
	return a, nil
}

func newFetcher(cfg config.FetchConfig) (fetch.Fetcher, error) {
	var opts []fetch.Option
	if cfg.AllowPrivateNetworks {
		opts = append(opts, fetch.AllowPrivateNetworks())
	}

	var next fetch.Fetcher
	var direct *fetch.Direct
	switch cfg.Provider {
	case "direct":
		direct = fetch.NewDirect(cfg.Timeout, opts...)
		next = direct
	default:
		fc, err := fetch.NewFirecrawl(cfg.FirecrawlBaseURL, cfg.FirecrawlAPIKey, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		next = fc
	}
	guard, err := fetch.NewGuard(next, cfg.BlockedHosts, cfg.RatePerSecond, opts...)
	if err != nil {
		return nil, err
	}
	if direct != nil {
		direct.CheckRedirects(guard.Check)
	}
	return guard, nil
}

func (a *app) handlerDeps() api.Deps {
	return api.Deps{
		Leads:       a.service,
		Searcher:    a.searcher,
		Ingester:    a.pipeline,
		Jobs:        a.worker,
		JobStatus:   a.store,
		Health:      a.health,
		Token:       a.cfg.Server.APIToken,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}
}

// track registers v for Close when it holds resources.
func (a *app) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type pingAll []api.Pinger

func (p pingAll) Ping(ctx context.Context) error {
	for _, x := range p {
		if err := x.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}
