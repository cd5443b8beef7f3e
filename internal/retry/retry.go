// Package retry runs backend calls under a bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/config"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// Policy bounds how often and how patiently a call is retried.
type Policy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor in [0, 1).
	Jitter float64
}

// FromConfig converts the YAML retry block into a Policy.
func FromConfig(c config.RetryConfig) Policy {
	return Policy{
		Attempts:        c.Attempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		Multiplier:      c.Multiplier,
		Jitter:          0.2,
	}
}

// Default is three attempts starting at 200ms, doubling up to 5s.
func Default() Policy {
	return Policy{Attempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second, Multiplier: 2, Jitter: 0.2}
}

// Permanent marks err so Do returns it without further attempts.
// errors.Is and errors.As still see through the mark.
func Permanent(err error) error { return backoff.Permanent(err) }

// Notify is called after a failed attempt that will be retried.
type Notify func(err error, attempt int, wait time.Duration)

// Do calls op until it succeeds, the attempts are spent, the error is
// permanent, or ctx is done. Each call receives ctx unchanged; per-call
// timeouts are the caller's business.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), notify Notify) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return v, err
		}
		if domain.IsPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			notify(err, attempt, wait)
		}))
	}
	return backoff.Retry(ctx, wrapped, opts...)
}
