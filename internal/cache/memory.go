package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// Memory is an in-process cache bounded by entry count.
type Memory struct {
	cache *ristretto.Cache[string, domain.Answer]
	ttl   time.Duration
}

// NewMemory creates a cache holding up to maxItems answers for ttl each.
func NewMemory(maxItems int64, ttl time.Duration) (*Memory, error) {
	if maxItems <= 0 {
		maxItems = 10000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, domain.Answer]{
		NumCounters:        maxItems * 10,
		MaxCost:            maxItems,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &Memory{cache: c, ttl: ttl}, nil
}

func (m *Memory) Get(_ context.Context, key string) (domain.Answer, bool, error) {
	a, ok := m.cache.Get(key)
	return a, ok, nil
}

// Set stores answer and waits until it is visible to Get.
func (m *Memory) Set(_ context.Context, key string, answer domain.Answer) error {
	m.cache.SetWithTTL(key, answer, 1, m.ttl)
	m.cache.Wait()
	return nil
}

func (m *Memory) Close() error {
	m.cache.Close()
	return nil
}
