package loader

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// extractPDF joins the plain text of every page; each page is a section.
func extractPDF(ctx context.Context, doc domain.Document) (out domain.Extracted, err error) {
	// The pdf package panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: corrupt pdf: %v", doc.Source, domain.ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc.Content), int64(len(doc.Content)))
	if err != nil {
		return domain.Extracted{}, fmt.Errorf("%s: %w: open pdf: %w", doc.Source, domain.ErrExtraction, err)
	}

	var t textBuilder
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return domain.Extracted{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			continue
		}
		t.section(fmt.Sprintf("Page %d", i))
		t.text(text)
	}
	return t.result(), nil
}

// extractSheet renders every sheet as tab-separated rows; each sheet is a section.
func extractSheet(ctx context.Context, doc domain.Document) (domain.Extracted, error) {
	book, err := excelize.OpenReader(bytes.NewReader(doc.Content))
	if err != nil {
		return domain.Extracted{}, fmt.Errorf("%s: %w: open workbook: %w", doc.Source, domain.ErrExtraction, err)
	}
	defer book.Close()

	var t textBuilder
	for _, sheet := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return domain.Extracted{}, err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return domain.Extracted{}, fmt.Errorf("%s: %w: sheet %q: %w", doc.Source, domain.ErrExtraction, sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		t.section(sheet)
		for _, row := range rows {
			for _, cell := range row {
				t.text(cell)
				t.pendingSpace = true
			}
			t.line()
		}
	}
	out := t.result()
	if props, err := book.GetDocProps(); err == nil && props != nil {
		out.Title = props.Title
	}
	return out, nil
}
