package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// Metric is the similarity function an index ranks by.
type Metric string

const (
	Cosine Metric = "cosine"
	Dot    Metric = "dot"
)

// ParseMetric validates a configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case Cosine, Dot:
		return Metric(s), nil
	case "":
		return Cosine, nil
	}
	return "", fmt.Errorf("%w: unknown metric %q", domain.ErrConfiguration, s)
}

// Options are shared by every index implementation.
type Options struct {
	// Model is the embedding model identifier all entries must carry.
	Model  string
	Metric Metric
	// Dimension is the expected vector length; zero learns it from the first write.
	Dimension int
}

// Index persists chunk vectors and supports similarity search.
// Readers never observe a half-applied write.
type Index interface {
	// Upsert inserts or replaces entries by chunk ID. A replaced chunk keeps its Seq.
	Upsert(ctx context.Context, entries ...domain.Entry) error
	// ReplaceDocument removes every entry of docID and inserts entries with new Seq values.
	ReplaceDocument(ctx context.Context, docID string, entries []domain.Entry) error
	// Remove deletes every entry of docID and reports how many there were.
	Remove(ctx context.Context, docID string) (int, error)
	// Query returns up to k entries ranked by score, ties by ascending Seq.
	Query(ctx context.Context, vector domain.Vector, k int) ([]domain.ScoredChunk, error)
	// Version changes on every mutation. Indexes shared between processes
	// derive it from stored state, so every process sees the same value.
	Version(ctx context.Context) (uint64, error)
	Model() string
	Close() error
}

// Pinger is implemented by indexes backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Score computes the similarity of a and b under m. Cosine of a zero vector is 0.
func Score(m Metric, a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if m == Dot {
		return dot
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank orders results by score descending, then by Seq ascending.
func Rank(results []domain.ScoredChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Seq < results[j].Seq
	})
}

// CheckQuery rejects a query vector the index cannot answer. dim is the
// index dimension, zero while nothing has been stored.
func CheckQuery(model string, dim int, v domain.Vector) error {
	if v.Model != model {
		return fmt.Errorf("%w: query embedded with %q, index holds %q", domain.ErrConfiguration, v.Model, model)
	}
	if dim != 0 && v.Dimension() != dim {
		return fmt.Errorf("%w: query has %d values, index has %d", domain.ErrDimensionMismatch, v.Dimension(), dim)
	}
	return nil
}

// CheckEntries validates a write batch and returns the dimension it implies.
// docID, when set, must own every entry.
func CheckEntries(model string, dim int, docID string, entries []domain.Entry) (int, error) {
	for _, e := range entries {
		if e.Vector.Model != model {
			return dim, fmt.Errorf("%w: entry %s embedded with %q, index holds %q", domain.ErrConfiguration, e.Chunk.ID, e.Vector.Model, model)
		}
		if e.Chunk.ID == "" {
			return dim, fmt.Errorf("%w: entry without chunk id", domain.ErrEmptyInput)
		}
		if docID != "" && e.Chunk.DocumentID != docID {
			return dim, fmt.Errorf("%w: entry %s belongs to %q, not %q", domain.ErrConfiguration, e.Chunk.ID, e.Chunk.DocumentID, docID)
		}
		n := e.Vector.Dimension()
		if n == 0 {
			return dim, fmt.Errorf("%w: entry %s has an empty vector", domain.ErrDimensionMismatch, e.Chunk.ID)
		}
		if dim == 0 {
			dim = n
		}
		if n != dim {
			return dim, fmt.Errorf("%w: entry %s has %d values, index has %d", domain.ErrDimensionMismatch, e.Chunk.ID, n, dim)
		}
	}
	return dim, nil
}

// InitialVersion seeds an index version so a restarted process never reuses
// the versions, and hence cache keys, of an earlier one.
func InitialVersion() uint64 { return uint64(time.Now().UnixNano()) }
