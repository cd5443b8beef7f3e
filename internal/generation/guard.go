package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/retry"
)

// GuardOptions configures a Guard.
type GuardOptions struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// RateLimit is the sustained calls per second; zero disables limiting.
	RateLimit float64
	RateBurst int
	Logger    zerolog.Logger
}

// Guard wraps a generation backend with a circuit breaker and a token
// bucket rate limiter.
type Guard struct {
	backend domain.GenerationBackend
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewGuard(backend domain.GenerationBackend, opts GuardOptions) *Guard {
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.Name == "" {
		opts.Name = "generator"
	}
	log := opts.Logger.With().Str("component", "generation_guard").Logger()
	g := &Guard{
		backend: backend,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        opts.Name,
			MaxRequests: 1,
			Timeout:     opts.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= opts.MaxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return g
}

// Generate waits for a rate token and calls the backend through the breaker.
// An open breaker fails immediately and is not worth retrying.
func (g *Guard) Generate(ctx context.Context, prompt string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: rate limit: %w", domain.ErrGenerationBackend, err)
		}
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.backend.Generate(ctx, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", retry.Permanent(fmt.Errorf("%w: %w", domain.ErrGenerationBackend, err))
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state for health checks.
func (g *Guard) State() string { return g.breaker.State().String() }
