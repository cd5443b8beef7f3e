// Package retrieval turns a query vector into a ranked, deduplicated set
// of chunks drawn from the vector index.
package retrieval

import (
	"context"
	"fmt"

	"github.com/hbollon/go-edlib"
	"github.com/rs/zerolog"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// Searcher is the read side of a vector index.
type Searcher interface {
	Query(ctx context.Context, vector domain.Vector, k int) ([]domain.ScoredChunk, error)
}

// Config tunes candidate filtering. Zero fields take the defaults below.
type Config struct {
	DefaultK  int
	MaxK      int
	Overfetch int
	// PerDocumentCap limits results per document; zero means max(1, ceil(K/2)).
	PerDocumentCap int
	// DedupeOverlap is the span overlap and DedupeSimilarity the Jaccard
	// similarity at which two chunks of one document count as duplicates.
	// Nil takes 0.5 and 0.9; zero or negative turns that check off.
	DedupeOverlap    *float64
	DedupeSimilarity *float64
	Logger           zerolog.Logger
}

// Options are per-query settings.
type Options struct {
	K        int
	MinScore float64
}

type Retriever struct {
	index Searcher
	cfg   Config
	log   zerolog.Logger

	overlap    float64
	similarity float64
}

func New(index Searcher, cfg Config) *Retriever {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 3
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = 50
	}
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = 3
	}
	return &Retriever{
		index:      index,
		cfg:        cfg,
		log:        cfg.Logger.With().Str("component", "retriever").Logger(),
		overlap:    threshold(cfg.DedupeOverlap, 0.5),
		similarity: threshold(cfg.DedupeSimilarity, 0.9),
	}
}

// threshold resolves an optional threshold; zero means disabled.
func threshold(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return max(*v, 0)
}

// Retrieve returns at most K chunks. An empty result means nothing relevant
// was found and is not an error.
func (r *Retriever) Retrieve(ctx context.Context, vector domain.Vector, opts Options) ([]domain.ScoredChunk, error) {
	k := opts.K
	if k <= 0 {
		k = r.cfg.DefaultK
	}
	if k > r.cfg.MaxK {
		k = r.cfg.MaxK
	}

	candidates, err := r.index.Query(ctx, vector, k*r.cfg.Overfetch)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	fetched := len(candidates)

	kept := candidates[:0:0]
	for _, c := range candidates {
		if c.Score >= opts.MinScore {
			kept = append(kept, c)
		}
	}
	aboveThreshold := len(kept)

	kept = r.dedupe(kept)
	kept = capPerDocument(kept, r.perDocumentCap(k))
	if len(kept) > k {
		kept = kept[:k]
	}

	r.log.Debug().
		Int("k", k).
		Int("fetched", fetched).
		Int("above_threshold", aboveThreshold).
		Int("returned", len(kept)).
		Msg("retrieved")
	return kept, nil
}

func (r *Retriever) perDocumentCap(k int) int {
	if r.cfg.PerDocumentCap > 0 {
		return r.cfg.PerDocumentCap
	}
	return max(1, (k+1)/2)
}

// dedupe keeps the first, and therefore higher ranked, of any two
// near-duplicate chunks of the same document.
func (r *Retriever) dedupe(results []domain.ScoredChunk) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, 0, len(results))
	for _, c := range results {
		duplicate := false
		for _, prev := range out {
			if prev.Chunk.DocumentID == c.Chunk.DocumentID && r.nearDuplicate(prev.Chunk, c.Chunk) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, c)
		}
	}
	return out
}

func (r *Retriever) nearDuplicate(a, b domain.Chunk) bool {
	if r.overlap > 0 && spanOverlap(a, b) >= r.overlap {
		return true
	}
	return r.similarity > 0 && float64(edlib.JaccardSimilarity(a.Text, b.Text, 0)) >= r.similarity
}

// spanOverlap is the shared length of two spans as a fraction of the shorter one.
func spanOverlap(a, b domain.Chunk) float64 {
	shorter := min(a.End-a.Start, b.End-b.Start)
	if shorter <= 0 {
		return 0
	}
	shared := min(a.End, b.End) - max(a.Start, b.Start)
	if shared <= 0 {
		return 0
	}
	return float64(shared) / float64(shorter)
}

// capPerDocument keeps at most limit chunks per document, unless all
// results come from one document.
func capPerDocument(results []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	docs := make(map[string]int)
	for _, c := range results {
		docs[c.Chunk.DocumentID]++
	}
	if len(docs) <= 1 {
		return results
	}
	seen := make(map[string]int, len(docs))
	out := make([]domain.ScoredChunk, 0, len(results))
	for _, c := range results {
		if seen[c.Chunk.DocumentID] < limit {
			seen[c.Chunk.DocumentID]++
			out = append(out, c)
		}
	}
	return out
}
