// Package service orchestrates ingestion and question answering over the
// loader, chunker, embedder, index, retriever, assembler and synthesizer.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/cache"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/catalog"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/keylock"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/metrics"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/retrieval"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/telemetry"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore"
)

type Loader interface {
	Load(ctx context.Context, doc domain.Document) (domain.Extracted, error)
}

type Chunker interface {
	Chunk(docID, text string) ([]domain.Chunk, error)
}

type Embedder interface {
	Model() string
	Embed(ctx context.Context, text string) (domain.Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, vector domain.Vector, opts retrieval.Options) ([]domain.ScoredChunk, error)
}

type Assembler interface {
	Assemble(results []domain.ScoredChunk) domain.ContextWindow
}

type Synthesizer interface {
	Synthesize(ctx context.Context, query string, window domain.ContextWindow) (domain.Answer, error)
}

// Catalog tracks indexed documents. It is optional.
type Catalog interface {
	Get(ctx context.Context, id string) (catalog.Record, bool, error)
	Put(ctx context.Context, r catalog.Record) error
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]catalog.Record, error)
}

// HealthCheck reports a component problem as an error.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators of a Service. Cache, Catalog, Metrics,
// Tracer and Checks are optional.
type Deps struct {
	Loader      Loader
	Chunker     Chunker
	Embedder    Embedder
	Index       vectorstore.Index
	Retriever   Retriever
	Assembler   Assembler
	Synthesizer Synthesizer
	Cache       cache.Cache
	Catalog     Catalog
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	Checks      map[string]HealthCheck
	Logger      zerolog.Logger
}

// Config holds query defaults and ingestion limits.
type Config struct {
	TopK     int
	MaxK     int
	MinScore float64
	// RetrieveTimeout bounds the index query. Embedding and synthesis are
	// bounded by their backends' own timeouts.
	RetrieveTimeout   time.Duration
	IngestConcurrency int
}

// Options are per-query overrides. Nil MinScore uses the configured default.
type Options struct {
	TopK     int
	MinScore *float64
}

type Service struct {
	loader      Loader
	chunker     Chunker
	embedder    Embedder
	index       vectorstore.Index
	retriever   Retriever
	assembler   Assembler
	synthesizer Synthesizer
	cache       cache.Cache
	catalog     Catalog
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	checks      map[string]HealthCheck
	log         zerolog.Logger

	cfg    Config
	locks  *keylock.Map
	flight singleflight.Group

	runsMu sync.Mutex
	runs   map[string]*sharedRun
}

// sharedRun is one pipeline run serving every caller that asked the same
// question while it was in flight. Its context is detached from the callers
// and canceled once the last of them has left.
type sharedRun struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
	stage   atomic.Value
}

func New(d Deps, cfg Config) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = 50
	}
	if cfg.IngestConcurrency <= 0 {
		cfg.IngestConcurrency = 4
	}
	if cfg.RetrieveTimeout <= 0 {
		cfg.RetrieveTimeout = 10 * time.Second
	}
	if d.Cache == nil {
		d.Cache = cache.Nop{}
	}
	if d.Tracer == nil {
		d.Tracer = telemetry.Tracer()
	}
	return &Service{
		loader:      d.Loader,
		chunker:     d.Chunker,
		embedder:    d.Embedder,
		index:       d.Index,
		retriever:   d.Retriever,
		assembler:   d.Assembler,
		synthesizer: d.Synthesizer,
		cache:       d.Cache,
		catalog:     d.Catalog,
		metrics:     d.Metrics,
		tracer:      d.Tracer,
		checks:      d.Checks,
		log:         d.Logger.With().Str("component", "service").Logger(),
		cfg:         cfg,
		locks:       keylock.New(),
		runs:        make(map[string]*sharedRun),
	}
}

// Answer runs the query pipeline. Completed answers, including those with
// insufficient context, are cached per index version; identical concurrent
// queries share one pipeline run. A caller whose ctx ends gets its own
// cancellation error without affecting the others sharing the run.
func (s *Service) Answer(ctx context.Context, query string, opts Options) (domain.Answer, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "service.Answer")
	defer span.End()

	q := normalize(query)
	s.transition(StageReceived, "ok", 0)
	if q == "" {
		return domain.Answer{}, s.failQuery(span, StageReceived, fmt.Errorf("%w: query is blank", domain.ErrEmptyInput))
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	topK = min(topK, s.cfg.MaxK)
	minScore := s.cfg.MinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}
	span.SetAttributes(attribute.Int("rag.top_k", topK), attribute.Float64("rag.min_score", minScore))

	version, err := s.index.Version(ctx)
	cacheable := err == nil
	if !cacheable {
		s.log.Warn().Err(err).Msg("index version unavailable, answer cache bypassed")
	}
	key := CacheKey(q, version, topK, minScore)
	if cacheable {
		if ans, ok := s.cached(ctx, key); ok {
			ans.Cached = true
			ans.Latency = time.Since(start)
			span.SetAttributes(attribute.Bool("rag.cached", true))
			return ans, nil
		}
	}

	var (
		v      any
		shared bool
	)
	for {
		run, leave := s.join(ctx, key)
		ch := s.flight.DoChan(key, func() (any, error) {
			ans, err := s.run(run, q, topK, minScore)
			if err != nil {
				return domain.Answer{}, err
			}
			if cacheable {
				if err := s.cache.Set(run.ctx, key, ans); err != nil {
					s.log.Warn().Err(err).Msg("caching answer failed")
				}
			}
			return ans, nil
		})
		select {
		case <-ctx.Done():
			leave()
			st, _ := run.stage.Load().(Stage)
			if st == "" {
				st = StageReceived
			}
			return domain.Answer{}, s.failQuery(span, st, ctx.Err())
		case res := <-ch:
			// While this caller waits its own run cannot be canceled, so a
			// canceled result means it joined a run its callers had abandoned.
			abandoned := errors.Is(res.Err, context.Canceled) && ctx.Err() == nil && run.ctx.Err() == nil
			leave()
			if abandoned {
				continue
			}
			v, err, shared = res.Val, res.Err, res.Shared
		}
		break
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Answer{}, err
	}
	ans := v.(domain.Answer)
	ans.Latency = time.Since(start)
	s.transition(StageCompleted, "ok", ans.Latency)
	s.log.Info().
		Int("top_k", topK).
		Int("citations", len(ans.Citations)).
		Bool("insufficient_context", ans.InsufficientContext).
		Bool("shared", shared).
		Dur("latency", ans.Latency).
		Msg("query answered")
	return ans, nil
}

// join registers the caller as a waiter on the shared run for key. leave
// must be called exactly once.
func (s *Service) join(ctx context.Context, key string) (run *sharedRun, leave func()) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	run, ok := s.runs[key]
	if !ok {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		run = &sharedRun{ctx: runCtx, cancel: cancel}
		s.runs[key] = run
	}
	run.waiters++
	return run, func() {
		s.runsMu.Lock()
		defer s.runsMu.Unlock()
		run.waiters--
		if run.waiters == 0 {
			run.cancel()
			if s.runs[key] == run {
				delete(s.runs, key)
			}
		}
	}
}

func (s *Service) run(run *sharedRun, q string, topK int, minScore float64) (domain.Answer, error) {
	ctx := run.ctx
	enter := func(st Stage) { run.stage.Store(st) }
	var (
		vec     domain.Vector
		results []domain.ScoredChunk
		window  domain.ContextWindow
		ans     domain.Answer
	)
	enter(StageEmbedding)
	err := s.stage(ctx, StageEmbedding, func(ctx context.Context) (err error) {
		vec, err = s.embedder.Embed(ctx, q)
		return err
	})
	if err == nil {
		enter(StageRetrieving)
		err = s.stage(ctx, StageRetrieving, func(ctx context.Context) (err error) {
			ctx, cancel := context.WithTimeout(ctx, s.cfg.RetrieveTimeout)
			defer cancel()
			results, err = s.retriever.Retrieve(ctx, vec, retrieval.Options{K: topK, MinScore: minScore})
			return err
		})
	}
	if err == nil {
		enter(StageAssembling)
		err = s.stage(ctx, StageAssembling, func(context.Context) error {
			window = s.assembler.Assemble(results)
			return nil
		})
	}
	if err == nil {
		enter(StageSynthesizing)
		err = s.stage(ctx, StageSynthesizing, func(ctx context.Context) (err error) {
			ans, err = s.synthesizer.Synthesize(ctx, q, window)
			return err
		})
	}
	if err != nil {
		s.transition(StageFailed, string(KindOf(err)), 0)
		return domain.Answer{}, err
	}
	return ans, nil
}

// stage runs fn as one pipeline state, with a span, a debug log line and
// metrics. Errors come back as *Error carrying the stage.
func (s *Service) stage(ctx context.Context, st Stage, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "stage."+string(st))
	defer span.End()
	s.log.Debug().Str("stage", string(st)).Msg("stage entered")

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.transition(st, "failed", d)
		s.log.Debug().Err(err).Str("stage", string(st)).Dur("took", d).Msg("stage failed")
		return newError(st, err)
	}
	s.transition(st, "ok", d)
	return nil
}

func (s *Service) transition(st Stage, outcome string, d time.Duration) {
	s.metrics.Stage(string(st), outcome, d)
}

func (s *Service) failQuery(span trace.Span, st Stage, err error) error {
	err = newError(st, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.transition(StageFailed, string(KindOf(err)), 0)
	return err
}

func (s *Service) cached(ctx context.Context, key string) (domain.Answer, bool) {
	ans, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Msg("cache lookup failed")
		ok = false
	}
	s.metrics.Cache(ok)
	return ans, ok
}

// Health reports "ok" or the failure for the index and each registered check.
func (s *Service) Health(ctx context.Context) map[string]string {
	out := map[string]string{"index": "ok"}
	if p, ok := s.index.(vectorstore.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			out["index"] = err.Error()
		}
	}
	for name, check := range s.checks {
		status := "ok"
		if err := check(ctx); err != nil {
			status = err.Error()
		}
		out[name] = status
	}
	return out
}

// Documents lists the catalog, or nothing when no catalog is configured.
func (s *Service) Documents(ctx context.Context) ([]catalog.Record, error) {
	if s.catalog == nil {
		return nil, nil
	}
	return s.catalog.List(ctx)
}

// CacheKey fingerprints a query for the result cache. The index version is
// part of the key, so any index mutation invalidates earlier answers.
func CacheKey(query string, version uint64, topK int, minScore float64) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(normalize(query))))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], version)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(topK))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(minScore))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string { return strings.Join(strings.Fields(s), " ") }
