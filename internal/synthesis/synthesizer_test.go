package synthesis

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/generation"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/generation/extractive"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/retry"
)

type generatorFunc func(ctx context.Context, prompt string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func fastRetry() retry.Policy {
	return retry.Policy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
}

func window(texts ...string) domain.ContextWindow {
	w := domain.ContextWindow{Budget: 1000, Unit: "chars"}
	for i, text := range texts {
		w.Items = append(w.Items, domain.ContextItem{
			Label:  i + 1,
			Chunk:  domain.Chunk{ID: "doc:" + string(rune('0'+i)), DocumentID: "doc", Ordinal: i, Text: text},
			Source: "doc.txt",
			Score:  1 - float64(i)/10,
		})
	}
	return w
}

func TestSynthesize_EmptyWindowSkipsBackend(t *testing.T) {
	var calls atomic.Int32
	s := New(generatorFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "made up", nil
	}), Options{Retry: fastRetry(), Logger: zerolog.Nop()})

	ans, err := s.Synthesize(context.Background(), "anything?", domain.ContextWindow{})
	require.NoError(t, err)
	assert.True(t, ans.InsufficientContext)
	assert.Equal(t, InsufficientContextMessage, ans.Text)
	assert.Empty(t, ans.Citations)
	assert.Zero(t, calls.Load())
}

func TestSynthesize_PromptAndCitations(t *testing.T) {
	var prompt string
	s := New(generatorFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "Water is wet [2], see also [7].", nil
	}), Options{Retry: fastRetry(), Logger: zerolog.Nop()})

	ans, err := s.Synthesize(context.Background(), "Is water wet?", window("The sky is blue.", "Water is wet."))
	require.NoError(t, err)
	assert.False(t, ans.InsufficientContext)
	assert.Equal(t, "Water is wet [2], see also [7].", ans.Text)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, 2, ans.Citations[0].Label)
	assert.Equal(t, "doc:1", ans.Citations[0].ChunkID)

	assert.Contains(t, prompt, "[1] source: doc.txt\nThe sky is blue.")
	assert.True(t, strings.HasSuffix(prompt, "Question: Is water wet?\nAnswer:"))
}

func TestSynthesize_NoMarkersCitesEverything(t *testing.T) {
	s := New(generatorFunc(func(context.Context, string) (string, error) {
		return "Both are true.", nil
	}), Options{Retry: fastRetry(), Logger: zerolog.Nop()})

	ans, err := s.Synthesize(context.Background(), "q", window("a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, ans.Citations, 3)
	for i, c := range ans.Citations {
		assert.Equal(t, i+1, c.Label)
	}
}

func TestSynthesize_Retries(t *testing.T) {
	var calls atomic.Int32
	s := New(generatorFunc(func(context.Context, string) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("overloaded")
		}
		return "ok [1]", nil
	}), Options{Retry: fastRetry(), Logger: zerolog.Nop()})

	ans, err := s.Synthesize(context.Background(), "q", window("a"))
	require.NoError(t, err)
	assert.Equal(t, "ok [1]", ans.Text)
	assert.EqualValues(t, 3, calls.Load())
}

func TestSynthesize_BackendError(t *testing.T) {
	tests := []struct {
		name string
		gen  generatorFunc
	}{
		{"failing", func(context.Context, string) (string, error) { return "", errors.New("down") }},
		{"blank output", func(context.Context, string) (string, error) { return "  ", nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.gen, Options{Retry: fastRetry(), Logger: zerolog.Nop()})
			_, err := s.Synthesize(context.Background(), "q", window("a"))
			assert.ErrorIs(t, err, domain.ErrGenerationBackend)
		})
	}
}

func TestSynthesize_OpenBreakerNotRetried(t *testing.T) {
	var calls atomic.Int32
	backend := generatorFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", errors.New("down")
	})
	guard := generation.NewGuard(backend, generation.GuardOptions{MaxFailures: 1, OpenTimeout: time.Hour, Logger: zerolog.Nop()})
	s := New(guard, Options{Retry: fastRetry(), Logger: zerolog.Nop()})

	_, err := s.Synthesize(context.Background(), "q", window("a"))
	assert.ErrorIs(t, err, domain.ErrGenerationBackend)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSynthesize_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(generatorFunc(func(context.Context, string) (string, error) {
		cancel()
		return "", context.Canceled
	}), Options{Retry: fastRetry(), Logger: zerolog.Nop()})

	_, err := s.Synthesize(ctx, "q", window("a"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrGenerationBackend)
}

func TestSynthesize_Extractive(t *testing.T) {
	s := New(extractive.NewGenerator(1), Options{Retry: fastRetry(), Logger: zerolog.Nop()})

	ans, err := s.Synthesize(context.Background(), "What color is the sky?", window("Water is wet.", "The sky is blue. Grass is green."))
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue. [2]", ans.Text)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "doc:1", ans.Citations[0].ChunkID)
}
