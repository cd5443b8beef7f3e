package service

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/catalog"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// IngestReport describes the outcome of ingesting one document.
type IngestReport struct {
	DocumentID string        `json:"document_id"`
	Source     string        `json:"source"`
	Chunks     int           `json:"chunks"`
	Skipped    bool          `json:"skipped"`
	Truncated  bool          `json:"truncated"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
}

// SourceKey names the file at path by its slash-separated path relative to
// root, the directory it was added from. A file added on its own is rooted
// at its own directory, so it is keyed by its base name like an upload.
// The CLI, the watcher and uploads all key documents this way, so one file
// gets one ID whichever way it was added.
func SourceKey(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// DocumentID derives a stable document ID from a source key.
func DocumentID(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:8])
}

// Ingest loads, chunks, embeds and indexes doc, replacing any earlier
// version of the same document. Ingestions of one document ID are
// serialized. When a catalog is configured and the content hash and model
// are unchanged, the document is skipped.
func (s *Service) Ingest(ctx context.Context, doc domain.Document) (IngestReport, error) {
	start := time.Now()
	report := IngestReport{DocumentID: doc.ID, Source: doc.Source}
	ctx, span := s.tracer.Start(ctx, "service.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("rag.document_id", doc.ID), attribute.String("rag.source", doc.Source))

	fail := func(st Stage, err error) (IngestReport, error) {
		err = newError(st, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.Ingest("failed", 0)
		s.log.Warn().Err(err).Str("document_id", doc.ID).Str("source", doc.Source).Msg("ingestion failed")
		report.Duration = time.Since(start)
		return report, err
	}

	if strings.TrimSpace(doc.ID) == "" {
		return fail(StageReceived, fmt.Errorf("%w: document id is required", domain.ErrEmptyInput))
	}
	if len(doc.Content) == 0 {
		return fail(StageReceived, fmt.Errorf("%w: document %s has no content", domain.ErrEmptyInput, doc.ID))
	}
	if doc.Source == "" {
		doc.Source = doc.ID
		report.Source = doc.ID
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}

	unlock, err := s.locks.Lock(ctx, doc.ID)
	if err != nil {
		return fail(StageReceived, err)
	}
	defer unlock()

	sum := sha256.Sum256(doc.Content)
	digest := hex.EncodeToString(sum[:])
	if s.catalog != nil {
		rec, found, err := s.catalog.Get(ctx, doc.ID)
		if err != nil {
			return fail(StageCataloging, err)
		}
		if found && rec.SHA256 == digest && rec.Model == s.embedder.Model() {
			report.Skipped = true
			report.Chunks = rec.Chunks
			report.Duration = time.Since(start)
			s.metrics.Ingest("skipped", 0)
			s.log.Debug().Str("document_id", doc.ID).Msg("document unchanged, skipped")
			return report, nil
		}
	}

	var extracted domain.Extracted
	err = s.stage(ctx, StageLoading, func(ctx context.Context) (err error) {
		extracted, err = s.loader.Load(ctx, doc)
		return err
	})
	if err != nil {
		return fail(StageLoading, err)
	}
	report.Truncated = extracted.Truncated

	var chunks []domain.Chunk
	err = s.stage(ctx, StageChunking, func(context.Context) (err error) {
		chunks, err = s.chunker.Chunk(doc.ID, extracted.Text)
		return err
	})
	if err != nil {
		return fail(StageChunking, err)
	}

	var vectors []domain.Vector
	err = s.stage(ctx, StageEmbedding, func(ctx context.Context) (err error) {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err = s.embedder.EmbedBatch(ctx, texts)
		if err == nil && len(vectors) != len(chunks) {
			err = fmt.Errorf("%w: %d vectors for %d chunks", domain.ErrEmbeddingBackend, len(vectors), len(chunks))
		}
		return err
	})
	if err != nil {
		return fail(StageEmbedding, err)
	}

	entries := make([]domain.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = domain.Entry{Chunk: c, Vector: vectors[i], Source: doc.Source}
	}
	err = s.stage(ctx, StageIndexing, func(ctx context.Context) error {
		return s.index.ReplaceDocument(ctx, doc.ID, entries)
	})
	if err != nil {
		return fail(StageIndexing, err)
	}

	if s.catalog != nil {
		contentType := extracted.ContentType
		if contentType == "" {
			contentType = doc.ContentType
		}
		err := s.catalog.Put(ctx, catalog.Record{
			ID:          doc.ID,
			Source:      doc.Source,
			ContentType: contentType,
			SHA256:      digest,
			Chunks:      len(chunks),
			Model:       s.embedder.Model(),
			IngestedAt:  doc.IngestedAt,
		})
		if err != nil {
			return fail(StageCataloging, err)
		}
	}

	report.Chunks = len(chunks)
	report.Duration = time.Since(start)
	s.metrics.Ingest("indexed", len(chunks))
	s.log.Info().
		Str("document_id", doc.ID).
		Str("source", doc.Source).
		Int("chunks", len(chunks)).
		Bool("truncated", extracted.Truncated).
		Dur("took", report.Duration).
		Msg("document ingested")
	return report, nil
}

// IngestBatch ingests docs concurrently. One failing document does not stop
// the others; its report carries the error. Reports follow the input order.
func (s *Service) IngestBatch(ctx context.Context, docs []domain.Document) []IngestReport {
	reports := make([]IngestReport, len(docs))
	var g errgroup.Group
	g.SetLimit(s.cfg.IngestConcurrency)
	for i, doc := range docs {
		g.Go(func() error {
			r, err := s.Ingest(ctx, doc)
			if err != nil {
				r.Err = err
				r.Error = err.Error()
			}
			reports[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Remove deletes a document from the index and the catalog and returns the
// number of chunks removed.
func (s *Service) Remove(ctx context.Context, docID string) (int, error) {
	if strings.TrimSpace(docID) == "" {
		return 0, newError(StageRemoving, fmt.Errorf("%w: document id is required", domain.ErrEmptyInput))
	}
	unlock, err := s.locks.Lock(ctx, docID)
	if err != nil {
		return 0, newError(StageRemoving, err)
	}
	defer unlock()

	n, err := s.index.Remove(ctx, docID)
	if err != nil {
		return 0, newError(StageRemoving, err)
	}
	if s.catalog != nil {
		if _, err := s.catalog.Delete(ctx, docID); err != nil {
			return n, newError(StageCataloging, err)
		}
	}
	s.log.Info().Str("document_id", docID).Int("chunks", n).Msg("document removed")
	return n, nil
}
