// Package catalog records which documents are indexed, with a content
// hash so unchanged documents can be skipped on re-ingestion.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Record describes one indexed document.
type Record struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	ContentType string    `json:"content_type"`
	SHA256      string    `json:"sha256"`
	Chunks      int       `json:"chunks"`
	Model       string    `json:"model"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// Store is a SQLite-backed catalog.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id           TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			content_type TEXT NOT NULL,
			sha256       TEXT NOT NULL,
			chunks       INTEGER NOT NULL,
			model        TEXT NOT NULL,
			ingested_at  INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record for id, if any.
func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, content_type, sha256, chunks, model, ingested_at
		FROM documents WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("getting document %s: %w", id, err)
	}
	return r, true, nil
}

// Put inserts or replaces a record.
func (s *Store) Put(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, source, content_type, sha256, chunks, model, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			content_type = excluded.content_type,
			sha256 = excluded.sha256,
			chunks = excluded.chunks,
			model = excluded.model,
			ingested_at = excluded.ingested_at`,
		r.ID, r.Source, r.ContentType, r.SHA256, r.Chunks, r.Model, r.IngestedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("saving document %s: %w", r.ID, err)
	}
	return nil
}

// Delete removes id and reports whether it was present.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns all records ordered by ID.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, content_type, sha256, chunks, model, ingested_at
		FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var r Record
	var ingested int64
	if err := sc.Scan(&r.ID, &r.Source, &r.ContentType, &r.SHA256, &r.Chunks, &r.Model, &ingested); err != nil {
		return Record{}, err
	}
	r.IngestedAt = time.Unix(0, ingested).UTC()
	return r, nil
}
