// Package badger provides a persistent exact vector index on BadgerDB.
// Every mutation is written in one badger transaction and mirrored into an
// in-memory index that serves queries.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore/memory"
)

const formatVersion = 1

var (
	manifestKey = []byte("manifest")
	entryPrefix = []byte("entry/")
)

type manifest struct {
	Format    int    `json:"format"`
	Model     string `json:"model"`
	Metric    string `json:"metric"`
	Dimension int    `json:"dimension"`
}

type record struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Overlap    int       `json:"overlap"`
	Source     string    `json:"source"`
	Model      string    `json:"model"`
	Seq        uint64    `json:"seq"`
	Values     []float32 `json:"values"`
}

// Storage implements vectorstore.Index using BadgerDB.
type Storage struct {
	db  *badger.DB
	mem *memory.Storage
	log zerolog.Logger

	writeMu  sync.Mutex
	manifest manifest
}

// Verify it implements the interface
var _ vectorstore.Index = (*Storage)(nil)

// Open opens or creates the index at path and loads every entry into memory.
// A manifest whose model or metric differs from opts is a configuration
// error; an unreadable entry is index corruption.
func Open(path string, opts vectorstore.Options, log zerolog.Logger) (*Storage, error) {
	return open(badger.DefaultOptions(path).WithLogger(nil), opts, log)
}

// OpenInMemory opens a non-persistent index, for tests.
func OpenInMemory(opts vectorstore.Options, log zerolog.Logger) (*Storage, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil), opts, log)
}

func open(bopts badger.Options, opts vectorstore.Options, log zerolog.Logger) (*Storage, error) {
	if opts.Metric == "" {
		opts.Metric = vectorstore.Cosine
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger index: %w", err)
	}
	s := &Storage{db: db, log: log.With().Str("component", "badger_index").Logger()}
	if err := s.load(opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) load(opts vectorstore.Options) error {
	m, found, err := s.readManifest()
	if err != nil {
		return err
	}
	if !found {
		m = manifest{Format: formatVersion, Model: opts.Model, Metric: string(opts.Metric), Dimension: opts.Dimension}
		if err := s.db.Update(func(txn *badger.Txn) error { return putManifest(txn, m) }); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	switch {
	case m.Format != formatVersion:
		return fmt.Errorf("%w: index format %d, this build reads %d", domain.ErrConfiguration, m.Format, formatVersion)
	case m.Model != opts.Model:
		return fmt.Errorf("%w: index was built with model %q, configured model is %q", domain.ErrConfiguration, m.Model, opts.Model)
	case m.Metric != string(opts.Metric):
		return fmt.Errorf("%w: index was built with metric %q, configured metric is %q", domain.ErrConfiguration, m.Metric, opts.Metric)
	case opts.Dimension != 0 && m.Dimension != 0 && opts.Dimension != m.Dimension:
		return fmt.Errorf("%w: index has dimension %d, configured dimension is %d", domain.ErrConfiguration, m.Dimension, opts.Dimension)
	}
	if m.Dimension == 0 {
		m.Dimension = opts.Dimension
	}
	s.manifest = m

	var entries []domain.Entry
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			item := it.Item()
			var e domain.Entry
			err := item.Value(func(val []byte) error {
				var derr error
				e, derr = decodeEntry(val)
				return derr
			})
			if err != nil {
				return fmt.Errorf("%w: key %q: %w", domain.ErrIndexCorruption, item.Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if _, err := vectorstore.CheckEntries(m.Model, m.Dimension, "", entries); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIndexCorruption, err)
	}

	s.mem = memory.NewStorage(vectorstore.Options{Model: m.Model, Metric: vectorstore.Metric(m.Metric), Dimension: m.Dimension})
	if len(entries) > 0 {
		s.mem.Apply("", false, entries)
	}
	s.log.Info().Int("entries", len(entries)).Str("model", m.Model).Int("dimension", s.mem.Dimension()).Msg("index loaded")
	return nil
}

func (s *Storage) readManifest() (manifest, bool, error) {
	var m manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &m) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return m, false, nil
	}
	if err != nil {
		return m, false, fmt.Errorf("%w: read manifest: %w", domain.ErrIndexCorruption, err)
	}
	return m, true, nil
}

func putManifest(txn *badger.Txn, m manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return txn.Set(manifestKey, data)
}

// Model never changes after Open; write only updates the manifest's dimension.
func (s *Storage) Model() string { return s.mem.Model() }

// Version is local to the process. Badger holds an exclusive directory
// lock, so no other process can write the same index.
func (s *Storage) Version(ctx context.Context) (uint64, error) { return s.mem.Version(ctx) }

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

	assigned, err := s.mem.Assign(docID, replace, entries)
	if err != nil {
		return err
	}
	var stale []string
	if replace {
		stale = s.mem.ChunkIDs(docID)
	}

	next := s.manifest
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, id := range stale {
			if err := txn.Delete(entryKey(docID, id)); err != nil {
				return err
			}
		}
		for _, e := range assigned {
			if prev, ok := s.mem.Entry(e.Chunk.ID); ok && prev.Chunk.DocumentID != e.Chunk.DocumentID {
				if err := txn.Delete(entryKey(prev.Chunk.DocumentID, prev.Chunk.ID)); err != nil {
					return err
				}
			}
			val, err := encodeEntry(e)
			if err != nil {
				return err
			}
			if err := txn.Set(entryKey(e.Chunk.DocumentID, e.Chunk.ID), val); err != nil {
				return err
			}
		}
		if next.Dimension == 0 && len(assigned) > 0 {
			next.Dimension = assigned[0].Vector.Dimension()
			return putManifest(txn, next)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger write: %w", err)
	}
	s.manifest = next
	s.mem.Apply(docID, replace, assigned)
	s.log.Debug().Str("document_id", docID).Int("entries", len(assigned)).Bool("replace", replace).Msg("index updated")
	return nil
}

func (s *Storage) Remove(ctx context.Context, docID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ids := s.mem.ChunkIDs(docID)
	if len(ids) == 0 {
		return 0, nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(entryKey(docID, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger delete: %w", err)
	}
	s.mem.Apply(docID, true, nil)
	return len(ids), nil
}

func (s *Storage) Query(ctx context.Context, vector domain.Vector, k int) ([]domain.ScoredChunk, error) {
	return s.mem.Query(ctx, vector, k)
}

func (s *Storage) Close() error { return s.db.Close() }

func entryKey(docID, chunkID string) []byte {
	key := make([]byte, 0, len(entryPrefix)+len(docID)+1+len(chunkID))
	key = append(key, entryPrefix...)
	key = append(key, docID...)
	key = append(key, 0)
	return append(key, chunkID...)
}

// encodeEntry renders e as a CRC32 (IEEE, big endian) of the payload
// followed by the brotli-compressed JSON record.
func encodeEntry(e domain.Entry) ([]byte, error) {
	data, err := json.Marshal(record{
		ChunkID:    e.Chunk.ID,
		DocumentID: e.Chunk.DocumentID,
		Ordinal:    e.Chunk.Ordinal,
		Text:       e.Chunk.Text,
		Start:      e.Chunk.Start,
		End:        e.Chunk.End,
		Overlap:    e.Chunk.Overlap,
		Source:     e.Source,
		Model:      e.Vector.Model,
		Seq:        e.Seq,
		Values:     e.Vector.Values,
	})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(out[4:]))
	return out, nil
}

func decodeEntry(val []byte) (domain.Entry, error) {
	if len(val) < 4 {
		return domain.Entry{}, errors.New("value too short")
	}
	if sum := crc32.ChecksumIEEE(val[4:]); sum != binary.BigEndian.Uint32(val[:4]) {
		return domain.Entry{}, errors.New("checksum mismatch")
	}
	data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(val[4:])))
	if err != nil {
		return domain.Entry{}, fmt.Errorf("decompress: %w", err)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Entry{}, fmt.Errorf("decode: %w", err)
	}
	return domain.Entry{
		Chunk: domain.Chunk{
			ID:         r.ChunkID,
			DocumentID: r.DocumentID,
			Ordinal:    r.Ordinal,
			Text:       r.Text,
			Start:      r.Start,
			End:        r.End,
			Overlap:    r.Overlap,
		},
		Vector: domain.Vector{Model: r.Model, Values: r.Values},
		Source: r.Source,
		Seq:    r.Seq,
	}, nil
}
