// Package cache stores completed answers keyed by query fingerprint.
package cache

import (
	"context"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// Cache is a query-result cache. A miss is (zero, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (domain.Answer, bool, error)
	Set(ctx context.Context, key string, answer domain.Answer) error
	Close() error
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) (domain.Answer, bool, error) {
	return domain.Answer{}, false, nil
}
func (Nop) Set(context.Context, string, domain.Answer) error { return nil }
func (Nop) Close() error                                     { return nil }
