package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/embedding/hashing"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/retry"
)

type fakeBackend struct {
	mu       sync.Mutex
	failures int
	calls    int
	batches  []int
	dims     func(call, i int) int
}

func (f *fakeBackend) Embed(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("backend unavailable")
	}
	f.batches = append(f.batches, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		dim := 4
		if f.dims != nil {
			dim = f.dims(f.calls, i)
		}
		out[i] = make([]float32, dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{Attempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func newEmbedder(b domain.EmbeddingBackend, batch int) *Embedder {
	return New(b, Options{Model: "fake-v1", BatchSize: batch, Timeout: time.Second, Retry: fastPolicy(3), Logger: zerolog.Nop()})
}

func TestEmbed_RetriesThenSucceeds(t *testing.T) {
	b := &fakeBackend{failures: 2}
	v, err := newEmbedder(b, 8).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 3, b.calls)
	assert.Equal(t, "fake-v1", v.Model)
	assert.Equal(t, 4, v.Dimension())
}

func TestEmbed_GivesUpAfterAttempts(t *testing.T) {
	b := &fakeBackend{failures: 3}
	_, err := newEmbedder(b, 8).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingBackend)
	assert.Equal(t, 3, b.calls)
}

func TestEmbed_EmptyInput(t *testing.T) {
	b := &fakeBackend{}
	_, err := newEmbedder(b, 8).Embed(context.Background(), "  \n")
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.Zero(t, b.calls)
}

func TestEmbedBatch_SplitsIntoBatches(t *testing.T) {
	b := &fakeBackend{}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := newEmbedder(b, 2).EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, b.batches)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v.Values[0], "order preserved")
	}
}

func TestEmbedBatch_InconsistentDimensionInBatch(t *testing.T) {
	b := &fakeBackend{dims: func(_, i int) int { return 4 + i }}
	_, err := newEmbedder(b, 8).EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.NotErrorIs(t, err, domain.ErrEmbeddingBackend)
	assert.Equal(t, 1, b.calls, "dimension mismatch is never retried")
}

func TestEmbedBatch_DimensionChangesBetweenCalls(t *testing.T) {
	b := &fakeBackend{dims: func(call, _ int) int { return 2 + call }}
	e := newEmbedder(b, 1)

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Equal(t, 3, e.Dimension())
}

func TestEmbed_WrongVectorCount(t *testing.T) {
	b := backendFunc(func(context.Context, []string, string) ([][]float32, error) {
		return [][]float32{{1}, {2}}, nil
	})
	_, err := newEmbedder(b, 8).Embed(context.Background(), "one")
	assert.ErrorIs(t, err, domain.ErrEmbeddingBackend)
}

func TestEmbed_CanceledContextIsNotWrapped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEmbedder(&fakeBackend{failures: 10}, 8).Embed(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrEmbeddingBackend)
}

func TestEmbed_PerCallTimeout(t *testing.T) {
	calls := 0
	b := backendFunc(func(ctx context.Context, texts []string, _ string) ([][]float32, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return [][]float32{{1, 2}}, nil
	})
	e := New(b, Options{Model: "m", Timeout: 20 * time.Millisecond, Retry: fastPolicy(3), Logger: zerolog.Nop()})

	v, err := e.Embed(context.Background(), "slow")
	require.NoError(t, err, "a timed-out attempt is retried under the parent context")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, v.Dimension())
}

func TestEmbed_HashingBackendIsStable(t *testing.T) {
	h := hashing.NewEmbedder(32)
	e := newEmbedder(h, 4)
	first, err := e.EmbedBatch(context.Background(), []string{"The sky is blue.", "Water is wet."})
	require.NoError(t, err)
	second, err := e.EmbedBatch(context.Background(), []string{"The sky is blue.", "Water is wet."})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 32, e.Dimension())
}

type backendFunc func(ctx context.Context, texts []string, model string) ([][]float32, error)

func (f backendFunc) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return f(ctx, texts, model)
}
