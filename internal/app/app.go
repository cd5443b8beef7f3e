// Package app builds the pipeline from configuration and owns the
// lifecycle of everything it opens.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/assembler"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/cache"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/catalog"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/chunker"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/config"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/embedding"
	embgemini "github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/embedding/gemini"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/embedding/hashing"
	embollama "github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/embedding/ollama"
	embopenai "github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/embedding/openai"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/generation"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/generation/extractive"
	gengemini "github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/generation/gemini"
	genollama "github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/generation/ollama"
	genopenai "github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/generation/openai"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/httpapi"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/loader"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/metrics"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/retrieval"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/retry"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/service"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/synthesis"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/telemetry"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore/badger"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore/memory"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore/pgvector"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore/qdrant"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/watcher"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// App is a fully wired pipeline.
type App struct {
	Config  *config.AppConfig
	Service *service.Service
	Metrics *metrics.Metrics
	Log     zerolog.Logger

	closers []func(context.Context) error
}

// New builds every component named by cfg. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Tracing, log)
	if err != nil {
		return nil, err
	}
	a.onClose(shutdownTracer)

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}
	policy := retry.FromConfig(cfg.Retry)
	checks := map[string]service.HealthCheck{}

	backend, dim, err := embeddingBackend(ctx, cfg.Embedder)
	if err != nil {
		return nil, err
	}
	if p, ok := backend.(pinger); ok {
		checks["embedder"] = p.Ping
	}
	emb := embedding.New(backend, embedding.Options{
		Model:     cfg.Embedder.Model,
		BatchSize: cfg.Embedder.BatchSize,
		Timeout:   cfg.Embedder.Timeout,
		Retry:     policy,
		Logger:    log,
	})

	index, err := openIndex(ctx, cfg.VectorStore, vectorstore.Options{Model: cfg.Embedder.Model, Dimension: dim}, log)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return index.Close() })

	gen, err := generationBackend(ctx, cfg.Generator)
	if err != nil {
		return nil, err
	}
	guard := generation.NewGuard(gen, generation.GuardOptions{
		Name:        cfg.Generator.Type,
		MaxFailures: cfg.Generator.Breaker.MaxFailures,
		OpenTimeout: cfg.Generator.Breaker.OpenTimeout,
		RateLimit:   cfg.Generator.RateLimit,
		RateBurst:   cfg.Generator.RateBurst,
		Logger:      log,
	})
	checks["generator"] = func(ctx context.Context) error {
		if state := guard.State(); state == "open" {
			return fmt.Errorf("circuit breaker %s", state)
		}
		if p, ok := gen.(pinger); ok {
			return p.Ping(ctx)
		}
		return nil
	}

	asm, err := assembler.New(cfg.Assembler.Budget, cfg.Assembler.Unit)
	if err != nil {
		return nil, err
	}

	answers, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return answers.Close() })
	if p, ok := answers.(pinger); ok {
		checks["cache"] = p.Ping
	}

	var cat service.Catalog
	switch {
	case cfg.Catalog.Path == "":
	case cfg.VectorStore.Type == "memory":
		// A persisted catalog over a volatile index would skip documents
		// the index no longer holds.
		log.Warn().Str("path", cfg.Catalog.Path).Msg("catalog ignored with the memory vector store")
	default:
		store, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
		a.onClose(func(context.Context) error { return store.Close() })
		cat = store
	}

	var ocr *loader.OCRClient
	if cfg.Loader.OCR.URL != "" {
		ocr = loader.NewOCRClient(cfg.Loader.OCR.URL, cfg.Loader.OCR.Timeout)
	}

	a.Service = service.New(service.Deps{
		Loader:   loader.New(loader.Options{MaxExtractBytes: cfg.Loader.MaxExtractBytes, OCR: ocr, Logger: log}),
		Chunker:  chunker.NewSentenceChunker(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap),
		Embedder: emb,
		Index:    index,
		Retriever: retrieval.New(index, retrieval.Config{
			DefaultK:         cfg.Retrieval.TopK,
			MaxK:             cfg.Retrieval.MaxK,
			Overfetch:        cfg.Retrieval.Overfetch,
			PerDocumentCap:   cfg.Retrieval.PerDocumentCap,
			DedupeOverlap:    &cfg.Retrieval.DedupeOverlap,
			DedupeSimilarity: &cfg.Retrieval.DedupeSimilarity,
			Logger:           log,
		}),
		Assembler: asm,
		Synthesizer: synthesis.New(guard, synthesis.Options{
			Timeout: cfg.Generator.Timeout,
			Retry:   policy,
			Logger:  log,
		}),
		Cache:   answers,
		Catalog: cat,
		Metrics: a.Metrics,
		Checks:  checks,
		Logger:  log,
	}, service.Config{
		TopK:            cfg.Retrieval.TopK,
		MaxK:            cfg.Retrieval.MaxK,
		MinScore:        cfg.Retrieval.MinScore,
		RetrieveTimeout: cfg.Retrieval.Timeout,
	})

	log.Info().
		Str("embedder", cfg.Embedder.Type).
		Str("model", cfg.Embedder.Model).
		Str("generator", cfg.Generator.Type).
		Str("vector_store", cfg.VectorStore.Type).
		Str("cache", cfg.Cache.Type).
		Bool("catalog", cat != nil).
		Msg("pipeline ready")
	return a, nil
}

// Server returns the HTTP server for the pipeline.
func (a *App) Server() *httpapi.Server {
	return httpapi.New(a.Service, httpapi.Options{
		Server:      a.Config.Server,
		ServiceName: a.Config.Tracing.ServiceName,
		Metrics:     a.Metrics,
		MetricsPath: a.Config.Metrics.Path,
		Logger:      a.Log,
	})
}

// Watcher returns the directory watcher, or nil when watch.dir is unset.
func (a *App) Watcher() *watcher.Watcher {
	if a.Config.Watch.Dir == "" {
		return nil
	}
	return watcher.New(a.Config.Watch.Dir, a.Config.Watch.Debounce, a.Service, a.Log)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) { a.closers = append(a.closers, fn) }

// embeddingBackend returns the configured backend and its dimension when it
// is known up front.
func embeddingBackend(ctx context.Context, cfg config.EmbedderConfig) (domain.EmbeddingBackend, int, error) {
	switch cfg.Type {
	case "hashing":
		return hashing.NewEmbedder(cfg.Dimension), cfg.Dimension, nil
	case "openai":
		c, err := embopenai.NewClient(embopenai.Config{BaseURL: cfg.OpenAI.BaseURL, APIKeyEnv: cfg.OpenAI.APIKeyEnv})
		return c, cfg.Dimension, err
	case "ollama":
		c, err := embollama.NewClient(cfg.Ollama.URL, &http.Client{Timeout: cfg.Timeout})
		return c, cfg.Dimension, err
	case "gemini":
		c, err := embgemini.NewClient(ctx, cfg.Gemini.APIKeyEnv)
		return c, cfg.Dimension, err
	}
	return nil, 0, fmt.Errorf("%w: unknown embedder %q", domain.ErrConfiguration, cfg.Type)
}

func generationBackend(ctx context.Context, cfg config.GeneratorConfig) (domain.GenerationBackend, error) {
	switch cfg.Type {
	case "extractive":
		return extractive.NewGenerator(cfg.MaxSentences), nil
	case "openai":
		return genopenai.NewClient(genopenai.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "ollama":
		return genollama.NewClient(genollama.Config{
			URL:         cfg.Ollama.URL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}, &http.Client{Timeout: cfg.Timeout})
	case "gemini":
		return gengemini.NewClient(ctx, gengemini.Config{
			APIKeyEnv:   cfg.Gemini.APIKeyEnv,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	}
	return nil, fmt.Errorf("%w: unknown generator %q", domain.ErrConfiguration, cfg.Type)
}

func openIndex(ctx context.Context, cfg config.VectorStoreConfig, opts vectorstore.Options, log zerolog.Logger) (vectorstore.Index, error) {
	metric, err := vectorstore.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	opts.Metric = metric
	switch cfg.Type {
	case "memory":
		return memory.NewStorage(opts), nil
	case "badger":
		return badger.Open(cfg.Badger.Path, opts, log)
	case "qdrant":
		return qdrant.NewStorage(ctx, qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     os.Getenv(cfg.Qdrant.APIKeyEnv),
			Collection: cfg.Qdrant.Collection,
		}, opts, log)
	case "pgvector":
		return pgvector.NewStorage(ctx, pgvector.Config{
			URL:   os.Getenv(cfg.Pgvector.URLEnv),
			Table: cfg.Pgvector.Table,
			Lists: cfg.Pgvector.Lists,
		}, opts, log)
	}
	return nil, fmt.Errorf("%w: unknown vector store %q", domain.ErrConfiguration, cfg.Type)
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Type {
	case "none":
		return cache.Nop{}, nil
	case "memory":
		return cache.NewMemory(cfg.MaxItems, cfg.TTL)
	case "redis":
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return cache.NewRedis(connectCtx, cfg.RedisURL, cfg.TTL)
	}
	return nil, fmt.Errorf("%w: unknown cache %q", domain.ErrConfiguration, cfg.Type)
}
