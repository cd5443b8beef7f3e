package qdrant

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	qd "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore"
)

// pointNamespace derives stable point UUIDs from chunk IDs.
var pointNamespace = uuid.MustParse("6f0c7a2e-3c1d-4f59-9a59-2b1f4b8e9d10")

// versionPoint holds the collection's version stamp. It carries no model
// field, so model-filtered queries never return it.
var versionPoint = uuid.MustParse("b3e1d6f4-8a27-4c0e-a1f9-5d2c7e40b86a")

// Payload field names.
const (
	fieldDocumentID = "document_id"
	fieldChunkID    = "chunk_id"
	fieldOrdinal    = "ordinal"
	fieldText       = "text"
	fieldStart      = "start"
	fieldEnd        = "end"
	fieldOverlap    = "overlap"
	fieldSource     = "source"
	fieldModel      = "model"
	fieldSeq        = "seq"
	fieldKind       = "kind"
	fieldVersion    = "version"

	kindVersion = "version"
)

// Config contains connection details for a Qdrant collection.
type Config struct {
	URL        string
	APIKey     string
	Collection string
}

// Storage is a Qdrant-backed approximate index. The collection is created
// on first write with the dimension and distance of the index.
type Storage struct {
	client     *qd.Client
	collection string
	opts       vectorstore.Options
	log        zerolog.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	dim     int
	ready   bool

	seq atomic.Uint64
}

var _ vectorstore.Index = (*Storage)(nil)

// NewStorage connects to Qdrant and verifies that an existing collection
// only holds points of the configured model.
func NewStorage(ctx context.Context, cfg Config, opts vectorstore.Options, log zerolog.Logger) (*Storage, error) {
	if opts.Metric == "" {
		opts.Metric = vectorstore.Cosine
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("%w: invalid qdrant url %q", domain.ErrConfiguration, cfg.URL)
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("%w: invalid qdrant port %q", domain.ErrConfiguration, p)
		}
	}
	client, err := qd.NewClient(&qd.Config{
		Host:   parsed.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: parsed.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &Storage{
		client:     client,
		collection: cfg.Collection,
		opts:       opts,
		dim:        opts.Dimension,
		log:        log.With().Str("component", "qdrant_index").Str("collection", cfg.Collection).Logger(),
	}
	s.seq.Store(uint64(time.Now().UnixNano()))
	if err := s.init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) init(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection check: %w", err)
	}
	if !exists {
		if s.dim > 0 {
			return s.createCollection(ctx, s.dim)
		}
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection info: %w", err)
	}
	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		size := int(params.GetSize())
		if s.dim != 0 && s.dim != size {
			return fmt.Errorf("%w: collection %s has dimension %d, configured dimension is %d", domain.ErrConfiguration, s.collection, size, s.dim)
		}
		if want := distance(s.opts.Metric); params.GetDistance() != want {
			return fmt.Errorf("%w: collection %s uses %s distance, configured metric is %s", domain.ErrConfiguration, s.collection, params.GetDistance(), s.opts.Metric)
		}
		s.dim = size
	}

	exact := true
	foreign, err := s.client.Count(ctx, &qd.CountPoints{
		CollectionName: s.collection,
		Filter: &qd.Filter{MustNot: []*qd.Condition{
			qd.NewMatch(fieldModel, s.opts.Model),
			qd.NewMatch(fieldKind, kindVersion),
		}},
		Exact: &exact,
	})
	if err != nil {
		return fmt.Errorf("qdrant count: %w", err)
	}
	if foreign > 0 {
		return fmt.Errorf("%w: collection %s holds %d points of another embedding model than %q", domain.ErrConfiguration, s.collection, foreign, s.opts.Model)
	}
	s.ready = true
	return nil
}

func (s *Storage) createCollection(ctx context.Context, dim int) error {
	err := s.client.CreateCollection(ctx, &qd.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
			Size:     uint64(dim),
			Distance: distance(s.opts.Metric),
		}),
	})
	if err != nil {
		return fmt.Errorf("create qdrant collection %s: %w", s.collection, err)
	}
	for _, field := range []string{fieldDocumentID, fieldModel} {
		if _, err := s.client.CreateFieldIndex(ctx, &qd.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qd.FieldType_FieldTypeKeyword.Enum(),
		}); err != nil {
			return fmt.Errorf("index payload field %s: %w", field, err)
		}
	}
	s.dim, s.ready = dim, true
	s.log.Info().Int("dimension", dim).Str("metric", string(s.opts.Metric)).Msg("collection created")
	return nil
}

func distance(m vectorstore.Metric) qd.Distance {
	if m == vectorstore.Dot {
		return qd.Distance_Dot
	}
	return qd.Distance_Cosine
}

func (s *Storage) Model() string { return s.opts.Model }
func (s *Storage) Close() error  { return s.client.Close() }

// Version reads the stamp every writer stores in the collection, so all
// processes sharing the collection agree on it. A collection created by
// another process since startup is picked up here.
func (s *Storage) Version(ctx context.Context) (uint64, error) {
	ready, err := s.refresh(ctx)
	if err != nil || !ready {
		return 0, err
	}
	points, err := s.client.Get(ctx, &qd.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qd.PointId{qd.NewIDUUID(versionPoint.String())},
		WithPayload:    qd.NewWithPayloadInclude(fieldVersion),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant version: %w", err)
	}
	if len(points) == 0 {
		return 0, nil
	}
	return uint64(points[0].GetPayload()[fieldVersion].GetIntegerValue()), nil
}

func (s *Storage) refresh(ctx context.Context) (bool, error) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if ready {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		if err := s.init(ctx); err != nil {
			return false, err
		}
	}
	return s.ready, nil
}

// stamp stores a fresh random version in the collection.
func (s *Storage) stamp(ctx context.Context, dim int) error {
	id := uuid.New()
	version := int64(binary.BigEndian.Uint64(id[:8]) >> 1)
	unit := make([]float32, dim)
	unit[0] = 1
	wait := true
	_, err := s.client.Upsert(ctx, &qd.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*qd.PointStruct{{
			Id:      qd.NewIDUUID(versionPoint.String()),
			Vectors: qd.NewVectors(unit...),
			Payload: map[string]*qd.Value{
				fieldKind:    qd.NewValueString(kindVersion),
				fieldVersion: qd.NewValueInt(version),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant version stamp: %w", err)
	}
	return nil
}

// Ping checks that the server is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.HealthCheck(ctx)
	return err
}

func (s *Storage) Upsert(ctx context.Context, entries ...domain.Entry) error {
	return s.write(ctx, "", false, entries)
}

// ReplaceDocument deletes docID's points and upserts entries, waiting for
// each step. Queries between the two calls may miss the document.
func (s *Storage) ReplaceDocument(ctx context.Context, docID string, entries []domain.Entry) error {
	return s.write(ctx, docID, true, entries)
}

func (s *Storage) write(ctx context.Context, docID string, replace bool, entries []domain.Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	owner := ""
	if replace {
		owner = docID
	}
	ready, err := s.refresh(ctx)
	if err != nil {
		return err
	}
	s.mu.RLock()
	dim := s.dim
	s.mu.RUnlock()
	dim, err = vectorstore.CheckEntries(s.opts.Model, dim, owner, entries)
	if err != nil {
		return err
	}
	if !ready && dim > 0 {
		s.mu.Lock()
		err := s.createCollection(ctx, dim)
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}

	seqs := make(map[string]uint64, len(entries))
	if !replace {
		if seqs, err = s.existingSeqs(ctx, entries); err != nil {
			return err
		}
	}

	if replace && ready {
		if _, err := s.deleteDocument(ctx, docID); err != nil {
			return err
		}
	}
	if len(entries) > 0 {
		points := make([]*qd.PointStruct, len(entries))
		for i, e := range entries {
			seq, ok := seqs[e.Chunk.ID]
			if !ok {
				seq = s.seq.Add(1)
				seqs[e.Chunk.ID] = seq
			}
			points[i] = toPoint(e, seq)
		}
		wait := true
		if _, err := s.client.Upsert(ctx, &qd.UpsertPoints{CollectionName: s.collection, Points: points, Wait: &wait}); err != nil {
			return fmt.Errorf("qdrant upsert: %w", err)
		}
	}
	if dim == 0 {
		return nil
	}
	return s.stamp(ctx, dim)
}

func (s *Storage) existingSeqs(ctx context.Context, entries []domain.Entry) (map[string]uint64, error) {
	out := make(map[string]uint64, len(entries))
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if !ready || len(entries) == 0 {
		return out, nil
	}
	ids := make([]*qd.PointId, len(entries))
	for i, e := range entries {
		ids[i] = pointID(e.Chunk.ID)
	}
	points, err := s.client.Get(ctx, &qd.GetPoints{
		CollectionName: s.collection,
		Ids:            ids,
		WithPayload:    qd.NewWithPayloadInclude(fieldChunkID, fieldSeq),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant get: %w", err)
	}
	for _, p := range points {
		payload := p.GetPayload()
		out[payload[fieldChunkID].GetStringValue()] = uint64(payload[fieldSeq].GetIntegerValue())
	}
	return out, nil
}

func (s *Storage) Remove(ctx context.Context, docID string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ready, err := s.refresh(ctx)
	if err != nil || !ready {
		return 0, err
	}
	n, err := s.deleteDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.mu.RLock()
		dim := s.dim
		s.mu.RUnlock()
		if err := s.stamp(ctx, dim); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (s *Storage) deleteDocument(ctx context.Context, docID string) (int, error) {
	filter := &qd.Filter{Must: []*qd.Condition{qd.NewMatch(fieldDocumentID, docID)}}
	exact := true
	n, err := s.client.Count(ctx, &qd.CountPoints{CollectionName: s.collection, Filter: filter, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	wait := true
	if _, err := s.client.Delete(ctx, &qd.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qd.NewPointsSelectorFilter(filter),
	}); err != nil {
		return 0, fmt.Errorf("qdrant delete: %w", err)
	}
	return int(n), nil
}

// Query over-fetches so ties at the cut are ranked by Seq like the other indexes.
func (s *Storage) Query(ctx context.Context, vector domain.Vector, k int) ([]domain.ScoredChunk, error) {
	ready, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	dim := s.dim
	s.mu.RUnlock()
	if err := vectorstore.CheckQuery(s.opts.Model, dim, vector); err != nil {
		return nil, err
	}
	if !ready || k <= 0 {
		return nil, nil
	}

	limit := uint64(2 * k)
	points, err := s.client.Query(ctx, &qd.QueryPoints{
		CollectionName: s.collection,
		Query:          qd.NewQuery(vector.Values...),
		Filter:         &qd.Filter{Must: []*qd.Condition{qd.NewMatch(fieldModel, s.opts.Model)}},
		Limit:          &limit,
		WithPayload:    qd.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	results := make([]domain.ScoredChunk, 0, len(points))
	for _, p := range points {
		results = append(results, fromPayload(p.GetPayload(), float64(p.GetScore())))
	}
	vectorstore.Rank(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func pointID(chunkID string) *qd.PointId {
	return qd.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(chunkID)).String())
}

func toPoint(e domain.Entry, seq uint64) *qd.PointStruct {
	return &qd.PointStruct{
		Id:      pointID(e.Chunk.ID),
		Vectors: qd.NewVectors(e.Vector.Values...),
		Payload: map[string]*qd.Value{
			fieldDocumentID: qd.NewValueString(e.Chunk.DocumentID),
			fieldChunkID:    qd.NewValueString(e.Chunk.ID),
			fieldOrdinal:    qd.NewValueInt(int64(e.Chunk.Ordinal)),
			fieldText:       qd.NewValueString(e.Chunk.Text),
			fieldStart:      qd.NewValueInt(int64(e.Chunk.Start)),
			fieldEnd:        qd.NewValueInt(int64(e.Chunk.End)),
			fieldOverlap:    qd.NewValueInt(int64(e.Chunk.Overlap)),
			fieldSource:     qd.NewValueString(e.Source),
			fieldModel:      qd.NewValueString(e.Vector.Model),
			fieldSeq:        qd.NewValueInt(int64(seq)),
		},
	}
}

func fromPayload(p map[string]*qd.Value, score float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.Chunk{
			ID:         p[fieldChunkID].GetStringValue(),
			DocumentID: p[fieldDocumentID].GetStringValue(),
			Ordinal:    int(p[fieldOrdinal].GetIntegerValue()),
			Text:       p[fieldText].GetStringValue(),
			Start:      int(p[fieldStart].GetIntegerValue()),
			End:        int(p[fieldEnd].GetIntegerValue()),
			Overlap:    int(p[fieldOverlap].GetIntegerValue()),
		},
		Source: p[fieldSource].GetStringValue(),
		Score:  score,
		Seq:    uint64(p[fieldSeq].GetIntegerValue()),
	}
}
