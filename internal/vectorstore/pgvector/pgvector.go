// Package pgvector stores chunk embeddings in PostgreSQL using the pgvector
// extension. Each write runs in one transaction and bumps the version row
// of the table's meta table, so processes sharing a table agree on Version.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/rs/zerolog"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore"
)

// Config contains connection details for a pgvector table.
type Config struct {
	URL   string
	Table string
	// Lists is the ivfflat list count, 100 when zero.
	Lists int
}

// Storage implements vectorstore.Index on a pgvector table.
type Storage struct {
	pool  *pgxpool.Pool
	name  string
	table string
	meta  string
	lists int
	opts  vectorstore.Options
	log   zerolog.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	dim     int
	ready   bool
}

var _ vectorstore.Index = (*Storage)(nil)

// NewStorage connects to Postgres, checks the vector extension and verifies
// that an existing table only holds rows of the configured model.
func NewStorage(ctx context.Context, cfg Config, opts vectorstore.Options, log zerolog.Logger) (*Storage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: postgres connection string is required", domain.ErrConfiguration)
	}
	if cfg.Table == "" {
		cfg.Table = "chunks"
	}
	if cfg.Lists <= 0 {
		cfg.Lists = 100
	}
	if opts.Metric == "" {
		opts.Metric = vectorstore.Cosine
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse connection string: %w", domain.ErrConfiguration, err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	s := &Storage{
		pool:  pool,
		name:  cfg.Table,
		table: pgx.Identifier{cfg.Table}.Sanitize(),
		meta:  pgx.Identifier{cfg.Table + "_meta"}.Sanitize(),
		lists: cfg.Lists,
		opts:  opts,
		dim:   opts.Dimension,
		log:   log.With().Str("component", "pgvector_index").Str("table", cfg.Table).Logger(),
	}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) init(ctx context.Context) error {
	var extExists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&extExists)
	if err != nil {
		return fmt.Errorf("check pgvector extension: %w", err)
	}
	if !extExists {
		return fmt.Errorf("%w: pgvector extension not installed, run CREATE EXTENSION vector", domain.ErrConfiguration)
	}
	if err := s.createMeta(ctx); err != nil {
		return err
	}
	return s.loadTable(ctx)
}

func (s *Storage) createMeta(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id SMALLINT PRIMARY KEY, version BIGINT NOT NULL)", s.meta),
		fmt.Sprintf("INSERT INTO %s (id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING", s.meta),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create meta table: %w", err)
		}
	}
	return nil
}

// loadTable checks an existing chunk table against the configuration.
// A missing table leaves the storage not ready.
func (s *Storage) loadTable(ctx context.Context) error {
	table := s.name
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check table %s: %w", table, err)
	}
	if !exists {
		if s.dim > 0 {
			return s.createTable(ctx, s.dim)
		}
		return nil
	}

	var foreign int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE model <> $1", s.table), s.opts.Model).Scan(&foreign); err != nil {
		return fmt.Errorf("check stored models: %w", err)
	}
	if foreign > 0 {
		return fmt.Errorf("%w: table %s holds %d rows of another embedding model than %q", domain.ErrConfiguration, table, foreign, s.opts.Model)
	}

	var dim int
	err = s.pool.QueryRow(ctx, fmt.Sprintf("SELECT vector_dims(embedding) FROM %s LIMIT 1", s.table)).Scan(&dim)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read stored dimension: %w", err)
	case s.dim != 0 && s.dim != dim:
		return fmt.Errorf("%w: table %s has dimension %d, configured dimension is %d", domain.ErrConfiguration, table, dim, s.dim)
	default:
		s.dim = dim
	}
	s.ready = true
	return nil
}

func (s *Storage) createTable(ctx context.Context, dim int) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			chunk_id    TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			ordinal     INTEGER NOT NULL,
			content     TEXT NOT NULL,
			start_off   INTEGER NOT NULL,
			end_off     INTEGER NOT NULL,
			overlap     INTEGER NOT NULL,
			source      TEXT NOT NULL,
			model       TEXT NOT NULL,
			seq         BIGINT GENERATED ALWAYS AS IDENTITY,
			embedding   vector(%d) NOT NULL
		)`, s.table, dim)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	ops := "vector_cosine_ops"
	if s.opts.Metric == vectorstore.Dot {
		ops = "vector_ip_ops"
	}
	createIndexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (document_id)", s.indexName("document_idx"), s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding %s) WITH (lists = %d)", s.indexName("embedding_idx"), s.table, ops, s.lists),
	}
	for _, stmt := range createIndexes {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	s.dim, s.ready = dim, true
	s.log.Info().Int("dimension", dim).Str("metric", string(s.opts.Metric)).Msg("table created")
	return nil
}

func (s *Storage) indexName(suffix string) string {
	return pgx.Identifier{s.name + "_" + suffix}.Sanitize()
}

func (s *Storage) Model() string { return s.opts.Model }

// Version reads the shared version row.
func (s *Storage) Version(ctx context.Context) (uint64, error) {
	if _, err := s.refresh(ctx); err != nil {
		return 0, err
	}
	var v int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT version FROM %s WHERE id = 1", s.meta)).Scan(&v); err != nil {
		return 0, fmt.Errorf("pgvector version: %w", err)
	}
	return uint64(v), nil
}

// refresh picks up a chunk table created by another process since startup.
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
		if err := s.loadTable(ctx); err != nil {
			return false, err
		}
	}
	return s.ready, nil
}

func (s *Storage) bumpVersion() string {
	return fmt.Sprintf("UPDATE %s SET version = version + 1 WHERE id = 1", s.meta)
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Storage) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Storage) Upsert(ctx context.Context, entries ...domain.Entry) error {
	return s.write(ctx, "", false, entries)
}

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
	if !ready {
		if dim == 0 {
			return nil
		}
		s.mu.Lock()
		err := s.createTable(ctx, dim)
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	if replace {
		batch.Queue(fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", s.table), docID)
	}
	upsert := fmt.Sprintf(`
		INSERT INTO %s (chunk_id, document_id, ordinal, content, start_off, end_off, overlap, source, model, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			ordinal = EXCLUDED.ordinal,
			content = EXCLUDED.content,
			start_off = EXCLUDED.start_off,
			end_off = EXCLUDED.end_off,
			overlap = EXCLUDED.overlap,
			source = EXCLUDED.source,
			model = EXCLUDED.model,
			embedding = EXCLUDED.embedding`, s.table)
	for _, e := range entries {
		c := e.Chunk
		batch.Queue(upsert, c.ID, c.DocumentID, c.Ordinal, c.Text, c.Start, c.End, c.Overlap, e.Source, e.Vector.Model, pgvector.NewVector(e.Vector.Values))
	}
	batch.Queue(s.bumpVersion())

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("statement %d: %w", i, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return fmt.Errorf("pgvector write: %w", err)
	}
	return nil
}

func (s *Storage) Remove(ctx context.Context, docID string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ready, err := s.refresh(ctx)
	if err != nil || !ready {
		return 0, err
	}
	var n int
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", s.table), docID)
		if err != nil {
			return err
		}
		if n = int(tag.RowsAffected()); n == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, s.bumpVersion())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("pgvector delete: %w", err)
	}
	return n, nil
}

// Query over-fetches from the ANN index and re-ranks so ties follow Seq.
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

	score, order := "1 - (embedding <=> $1)", "embedding <=> $1"
	if s.opts.Metric == vectorstore.Dot {
		score, order = "(embedding <#> $1) * -1", "embedding <#> $1"
	}
	query := fmt.Sprintf(`
		SELECT chunk_id, document_id, ordinal, content, start_off, end_off, overlap, source, seq, %s AS score
		FROM %s
		WHERE model = $2
		ORDER BY %s
		LIMIT $3`, score, s.table, order)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector.Values), s.opts.Model, 2*k)
	if err != nil {
		return nil, fmt.Errorf("pgvector query: %w", err)
	}
	defer rows.Close()

	var results []domain.ScoredChunk
	for rows.Next() {
		var r domain.ScoredChunk
		var seq int64
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Ordinal, &r.Chunk.Text,
			&r.Chunk.Start, &r.Chunk.End, &r.Chunk.Overlap, &r.Source, &seq, &r.Score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Seq = uint64(seq)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector rows: %w", err)
	}
	vectorstore.Rank(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
