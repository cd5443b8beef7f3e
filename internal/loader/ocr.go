package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// OCRClient sends images to an external OCR service.
type OCRClient struct {
	url        string
	httpClient *http.Client
}

type ocrResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// NewOCRClient returns a client for the service at url.
func NewOCRClient(url string, timeout time.Duration) *OCRClient {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &OCRClient{url: url, httpClient: &http.Client{Timeout: timeout}}
}

func (c *OCRClient) extract(ctx context.Context, doc domain.Document, contentType string) (domain.Extracted, error) {
	// Reject images the standard decoders recognise but cannot read.
	if _, _, err := image.DecodeConfig(bytes.NewReader(doc.Content)); err != nil && knownImage(contentType) {
		return domain.Extracted{}, fmt.Errorf("%s: %w: corrupt image: %w", doc.Source, domain.ErrExtraction, err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	name := filepath.Base(doc.Source)
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return domain.Extracted{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(doc.Content); err != nil {
		return domain.Extracted{}, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.Extracted{}, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return domain.Extracted{}, fmt.Errorf("create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Extracted{}, fmt.Errorf("%s: %w: OCR request failed: %w", doc.Source, domain.ErrExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Extracted{}, fmt.Errorf("%s: %w: OCR status %d: %s", doc.Source, domain.ErrExtraction, resp.StatusCode, bytes.TrimSpace(body))
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Extracted{}, fmt.Errorf("%s: %w: decode OCR response: %w", doc.Source, domain.ErrExtraction, err)
	}
	if out.Error != "" {
		return domain.Extracted{}, fmt.Errorf("%s: %w: OCR: %s", doc.Source, domain.ErrExtraction, out.Error)
	}
	return domain.Extracted{Text: normalize(out.Text)}, nil
}

func knownImage(contentType string) bool {
	switch contentType {
	case "image/png", "image/jpeg", "image/gif":
		return true
	}
	return false
}
