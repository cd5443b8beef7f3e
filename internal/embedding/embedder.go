// Package embedding turns chunk and query text into vectors through a
// pluggable backend.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/retry"
)

// Options configures an Embedder.
type Options struct {
	Model     string
	BatchSize int
	Timeout   time.Duration
	Retry     retry.Policy
	Logger    zerolog.Logger
}

// Embedder wraps a backend with batching, per-call timeouts, retries and
// dimension checks. The first successful call fixes the dimension.
type Embedder struct {
	backend   domain.EmbeddingBackend
	model     string
	batchSize int
	timeout   time.Duration
	policy    retry.Policy
	log       zerolog.Logger

	mu  sync.RWMutex
	dim int
}

func New(backend domain.EmbeddingBackend, opts Options) *Embedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	return &Embedder{
		backend:   backend,
		model:     opts.Model,
		batchSize: opts.BatchSize,
		timeout:   opts.Timeout,
		policy:    opts.Retry,
		log:       opts.Logger.With().Str("component", "embedder").Str("model", opts.Model).Logger(),
	}
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string { return e.model }

// Dimension returns the established vector dimension, or 0 before the first call.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dim
}

// Embed returns the vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.Vector, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Vector{}, fmt.Errorf("%w: nothing to embed", domain.ErrEmptyInput)
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return domain.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, calling the backend in batches.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([]domain.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		values, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			out = append(out, domain.Vector{Model: e.model, Values: v})
		}
	}
	return out, nil
}

func (e *Embedder) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	call := func(ctx context.Context) ([][]float32, error) {
		if e.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		values, err := e.backend.Embed(ctx, batch, e.model)
		if err != nil {
			return nil, err
		}
		if len(values) != len(batch) {
			return nil, fmt.Errorf("backend returned %d vectors for %d inputs", len(values), len(batch))
		}
		return values, e.checkDimension(values)
	}

	values, err := retry.Do(ctx, e.policy, call, func(err error, attempt int, wait time.Duration) {
		e.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Int("batch", len(batch)).Msg("embedding failed, retrying")
	})
	switch {
	case err == nil:
		return values, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, domain.ErrDimensionMismatch), errors.Is(err, domain.ErrEmptyInput), errors.Is(err, domain.ErrConfiguration):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingBackend, err)
	}
}

func (e *Embedder) checkDimension(values [][]float32) error {
	n := len(values[0])
	for i, v := range values {
		if len(v) != n {
			return fmt.Errorf("%w: vector %d has %d values, vector 0 has %d", domain.ErrDimensionMismatch, i, len(v), n)
		}
	}
	if n == 0 {
		return fmt.Errorf("%w: backend returned empty vectors", domain.ErrDimensionMismatch)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dim == 0 {
		e.dim = n
		return nil
	}
	if e.dim != n {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, n, e.dim)
	}
	return nil
}
