package loader

import (
	"bytes"
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractPlain(_ context.Context, doc domain.Document) (domain.Extracted, error) {
	return domain.Extracted{Text: normalize(decode(doc.Content))}, nil
}

// extractMarkdown keeps the source as is and records ATX headings as sections.
func extractMarkdown(_ context.Context, doc domain.Document) (domain.Extracted, error) {
	text := normalize(decode(doc.Content))
	out := domain.Extracted{Text: text}
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if heading != "" {
				if out.Title == "" && !strings.HasPrefix(trimmed, "##") {
					out.Title = heading
				}
				out.Sections = append(out.Sections, domain.Section{Heading: heading, Offset: offset})
			}
		}
		offset += len(line)
	}
	return out, nil
}

// decode converts raw bytes to UTF-8, detecting the charset when the input
// is not already valid UTF-8.
func decode(raw []byte) string {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw)
	}
	if res, err := chardet.NewTextDetector().DetectBest(raw); err == nil && res != nil {
		if enc, err := htmlindex.Get(res.Charset); err == nil {
			if decoded, err := enc.NewDecoder().Bytes(raw); err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}
	return strings.ToValidUTF8(string(raw), "�")
}

// normalize unifies line endings, strips trailing blanks and collapses runs
// of blank lines to one.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ToValidUTF8(s, "�")

	var b strings.Builder
	b.Grow(len(s))
	blank := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			blank++
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			if blank > 0 {
				b.WriteByte('\n')
			}
		}
		blank = 0
		b.WriteString(line)
	}
	return strings.TrimSpace(b.String())
}

// textBuilder accumulates extracted markup text, collapsing inline whitespace
// and keeping at most one blank line between blocks. It never emits leading
// whitespace, so recorded offsets stay valid after trimming.
type textBuilder struct {
	b            strings.Builder
	sections     []domain.Section
	pendingSpace bool
	breaks       int
}

func (t *textBuilder) text(s string) {
	for _, r := range s {
		if unicode.IsSpace(r) {
			t.pendingSpace = true
			continue
		}
		if t.b.Len() > 0 {
			switch {
			case t.breaks > 1:
				t.b.WriteString("\n\n")
			case t.breaks == 1:
				t.b.WriteByte('\n')
			case t.pendingSpace:
				t.b.WriteByte(' ')
			}
		}
		t.breaks, t.pendingSpace = 0, false
		t.b.WriteRune(r)
	}
}

// line ends the current line.
func (t *textBuilder) line() {
	if t.breaks < 1 {
		t.breaks = 1
	}
}

// block ends the current paragraph.
func (t *textBuilder) block() { t.breaks = 2 }

// section records a heading at the position the next text will occupy.
func (t *textBuilder) section(heading string) {
	offset := t.b.Len()
	if offset > 0 {
		offset += 2
	}
	t.block()
	t.sections = append(t.sections, domain.Section{Heading: strings.Join(strings.Fields(heading), " "), Offset: offset})
}

func (t *textBuilder) result() domain.Extracted {
	text := t.b.String()
	return domain.Extracted{Text: text, Sections: clampSections(t.sections, len(text))}
}
