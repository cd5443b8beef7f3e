package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore"
)

// Storage is an exact in-memory vector index using a brute-force scan.
// Its ranking is the reference the other indexes are tested against.
type Storage struct {
	model  string
	metric vectorstore.Metric

	writeMu sync.Mutex // serializes Assign/Apply pairs

	mu      sync.RWMutex
	dim     int
	entries map[string]domain.Entry
	byDoc   map[string]map[string]struct{}
	seq     uint64

	version atomic.Uint64
}

func NewStorage(opts vectorstore.Options) *Storage {
	if opts.Metric == "" {
		opts.Metric = vectorstore.Cosine
	}
	s := &Storage{
		model:   opts.Model,
		metric:  opts.Metric,
		dim:     opts.Dimension,
		entries: make(map[string]domain.Entry),
		byDoc:   make(map[string]map[string]struct{}),
	}
	s.version.Store(vectorstore.InitialVersion())
	return s
}

func (s *Storage) Model() string { return s.model }
func (s *Storage) Close() error  { return nil }

// Version is local to the process; the index is not shared.
func (s *Storage) Version(context.Context) (uint64, error) { return s.version.Load(), nil }

// Dimension is the vector length of stored entries, zero while empty and unconfigured.
func (s *Storage) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Len is the number of stored entries.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Storage) Upsert(ctx context.Context, entries ...domain.Entry) error {
	return s.write(ctx, "", false, entries)
}

func (s *Storage) ReplaceDocument(ctx context.Context, docID string, entries []domain.Entry) error {
	return s.write(ctx, docID, true, entries)
}

func (s *Storage) write(ctx context.Context, docID string, replace bool, entries []domain.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	assigned, err := s.Assign(docID, replace, entries)
	if err != nil {
		return err
	}
	s.Apply(docID, replace, assigned)
	return nil
}

func (s *Storage) Remove(ctx context.Context, docID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n := len(s.ChunkIDs(docID))
	if n > 0 {
		s.Apply(docID, true, nil)
	}
	return n, nil
}

// Assign validates entries and returns copies carrying the Seq values they
// will be stored under. With replace set, docID's current entries are
// ignored and every entry gets a fresh Seq. Nothing is modified.
// Callers pairing Assign with Apply must serialize the pair themselves.
func (s *Storage) Assign(docID string, replace bool, entries []domain.Entry) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner := ""
	if replace {
		owner = docID
	}
	if _, err := vectorstore.CheckEntries(s.model, s.dim, owner, entries); err != nil {
		return nil, err
	}

	out := make([]domain.Entry, len(entries))
	next := s.seq
	seen := make(map[string]uint64, len(entries))
	for i, e := range entries {
		if seq, dup := seen[e.Chunk.ID]; dup {
			e.Seq = seq
		} else if prev, ok := s.entries[e.Chunk.ID]; ok && !(replace && prev.Chunk.DocumentID == docID) {
			e.Seq = prev.Seq
		} else {
			next++
			e.Seq = next
		}
		seen[e.Chunk.ID] = e.Seq
		out[i] = e
	}
	return out, nil
}

// Apply stores assigned entries as is, first dropping docID's entries when
// replace is set. It never fails; validate with Assign first.
func (s *Storage) Apply(docID string, replace bool, entries []domain.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if replace {
		for id := range s.byDoc[docID] {
			delete(s.entries, id)
		}
		delete(s.byDoc, docID)
	}
	for _, e := range entries {
		if prev, ok := s.entries[e.Chunk.ID]; ok && prev.Chunk.DocumentID != e.Chunk.DocumentID {
			s.unlink(prev.Chunk.DocumentID, e.Chunk.ID)
		}
		s.entries[e.Chunk.ID] = e
		ids := s.byDoc[e.Chunk.DocumentID]
		if ids == nil {
			ids = make(map[string]struct{})
			s.byDoc[e.Chunk.DocumentID] = ids
		}
		ids[e.Chunk.ID] = struct{}{}
		if e.Seq > s.seq {
			s.seq = e.Seq
		}
		if s.dim == 0 {
			s.dim = e.Vector.Dimension()
		}
	}
	s.version.Add(1)
}

func (s *Storage) unlink(docID, chunkID string) {
	ids := s.byDoc[docID]
	delete(ids, chunkID)
	if len(ids) == 0 {
		delete(s.byDoc, docID)
	}
}

// ChunkIDs lists the chunk IDs stored for docID.
func (s *Storage) ChunkIDs(docID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byDoc[docID]))
	for id := range s.byDoc[docID] {
		ids = append(ids, id)
	}
	return ids
}

// Entry returns the stored entry for chunkID.
func (s *Storage) Entry(chunkID string) (domain.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[chunkID]
	return e, ok
}

func (s *Storage) Query(ctx context.Context, vector domain.Vector, k int) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := vectorstore.CheckQuery(s.model, s.dim, vector); err != nil {
		return nil, err
	}
	if k <= 0 || len(s.entries) == 0 {
		return nil, nil
	}

	results := make([]domain.ScoredChunk, 0, len(s.entries))
	for _, e := range s.entries {
		results = append(results, domain.ScoredChunk{
			Chunk:  e.Chunk,
			Source: e.Source,
			Score:  vectorstore.Score(s.metric, e.Vector.Values, vector.Values),
			Seq:    e.Seq,
		})
	}
	vectorstore.Rank(results)
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}
