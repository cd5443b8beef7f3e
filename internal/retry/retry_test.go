package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var notified []int
	v, err := Do(context.Background(), fast(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	}, func(err error, attempt int, wait time.Duration) {
		notified = append(notified, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("connection refused")
	_, err := Do(context.Background(), fast(3), func(context.Context) (int, error) {
		calls++
		return 0, boom
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorsAreNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast(5), func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("batch 0: %w", domain.ErrDimensionMismatch)
	}, nil)

	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, fast(5), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("interrupted")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsStillCallsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, func(context.Context) (int, error) {
		calls++
		return 1, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentMarkStopsRetries(t *testing.T) {
	calls := 0
	sentinel := errors.New("breaker open")
	_, err := Do(context.Background(), fast(5), func(context.Context) (int, error) {
		calls++
		return 0, Permanent(fmt.Errorf("%w: %w", domain.ErrGenerationBackend, sentinel))
	}, nil)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, sentinel)
	assert.ErrorIs(t, err, domain.ErrGenerationBackend)
}
