// Package loader turns raw documents into normalized UTF-8 text.
package loader

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

const (
	TypePlain    = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeCSV      = "text/csv"
	TypeHTML     = "text/html"
	TypeXHTML    = "application/xhtml+xml"
	TypeXML      = "application/xml"
	TypeTextXML  = "text/xml"
	TypePDF      = "application/pdf"
	TypeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type extractFunc func(ctx context.Context, doc domain.Document) (domain.Extracted, error)

// Options configures a Loader.
type Options struct {
	// MaxExtractBytes caps the normalized text; zero means no cap.
	MaxExtractBytes int
	// OCR extracts text from images. Images are unsupported without it.
	OCR    *OCRClient
	Logger zerolog.Logger
}

// Loader extracts text from the formats it has a path for.
type Loader struct {
	maxBytes   int
	ocr        *OCRClient
	log        zerolog.Logger
	extractors map[string]extractFunc
}

func New(opts Options) *Loader {
	l := &Loader{
		maxBytes: opts.MaxExtractBytes,
		ocr:      opts.OCR,
		log:      opts.Logger.With().Str("component", "loader").Logger(),
	}
	l.extractors = map[string]extractFunc{
		TypePlain:    extractPlain,
		TypeCSV:      extractPlain,
		TypeMarkdown: extractMarkdown,
		TypeHTML:     extractHTML,
		TypeXHTML:    extractHTML,
		TypeXML:      extractXML,
		TypeTextXML:  extractXML,
		TypePDF:      extractPDF,
		TypeXLSX:     extractSheet,
	}
	return l
}

// Supports reports whether contentType has an extraction path.
func (l *Loader) Supports(contentType string) bool {
	if strings.HasPrefix(contentType, "image/") {
		return l.ocr != nil
	}
	_, ok := l.extractors[contentType]
	return ok
}

// Load extracts normalized text from doc. doc.Content is not modified.
func (l *Loader) Load(ctx context.Context, doc domain.Document) (domain.Extracted, error) {
	contentType := DetectType(doc)

	var (
		out domain.Extracted
		err error
	)
	switch {
	case strings.HasPrefix(contentType, "image/"):
		if l.ocr == nil {
			return domain.Extracted{}, fmt.Errorf("%s: %w: %s (no OCR service configured)", doc.Source, domain.ErrUnsupportedFormat, contentType)
		}
		out, err = l.ocr.extract(ctx, doc, contentType)
	default:
		extract, ok := l.extractors[contentType]
		if !ok {
			return domain.Extracted{}, fmt.Errorf("%s: %w: %s", doc.Source, domain.ErrUnsupportedFormat, contentType)
		}
		out, err = extract(ctx, doc)
	}
	if err != nil {
		return domain.Extracted{}, err
	}

	out.ContentType = contentType
	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" {
		return domain.Extracted{}, fmt.Errorf("%s: %w: no text found", doc.Source, domain.ErrExtraction)
	}
	if l.maxBytes > 0 && len(out.Text) > l.maxBytes {
		out.Text = truncate(out.Text, l.maxBytes)
		out.Truncated = true
		out.Sections = clampSections(out.Sections, len(out.Text))
		l.log.Warn().Str("source", doc.Source).Int("max_bytes", l.maxBytes).Msg("extracted text truncated")
	}
	l.log.Debug().
		Str("source", doc.Source).
		Str("content_type", contentType).
		Int("bytes", len(out.Text)).
		Int("sections", len(out.Sections)).
		Msg("document extracted")
	return out, nil
}

// DetectType resolves the content type of doc: a known declared type wins,
// then the sniffed type, then the file extension.
func DetectType(doc domain.Document) string {
	declared := baseType(doc.ContentType)
	if declared != "" && declared != "application/octet-stream" {
		return refineByExtension(declared, doc.Source)
	}
	sniffed := baseType(mimetype.Detect(doc.Content).String())
	if sniffed == "application/octet-stream" || sniffed == "" {
		if byExt := baseType(mime.TypeByExtension(strings.ToLower(filepath.Ext(doc.Source)))); byExt != "" {
			return refineByExtension(byExt, doc.Source)
		}
		return sniffed
	}
	return refineByExtension(sniffed, doc.Source)
}

// refineByExtension distinguishes text formats that sniff as text/plain.
func refineByExtension(contentType, source string) string {
	if contentType != TypePlain {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(source)) {
	case ".md", ".markdown":
		return TypeMarkdown
	case ".csv":
		return TypeCSV
	}
	return contentType
}

func baseType(s string) string {
	if s == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(s, ";", 2)[0]))
	}
	return mt
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func clampSections(sections []domain.Section, limit int) []domain.Section {
	out := sections[:0:0]
	for _, s := range sections {
		if s.Offset < limit {
			out = append(out, s)
		}
	}
	return out
}
