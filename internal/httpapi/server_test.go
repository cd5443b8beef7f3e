package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/catalog"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/config"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/metrics"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/service"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeService struct {
	answer    domain.Answer
	answerErr error
	gotQuery  string
	gotOpts   service.Options

	ingested  domain.Document
	ingestErr error

	removed int
	health  map[string]string
}

func (f *fakeService) Answer(_ context.Context, q string, opts service.Options) (domain.Answer, error) {
	f.gotQuery, f.gotOpts = q, opts
	return f.answer, f.answerErr
}

func (f *fakeService) Ingest(_ context.Context, doc domain.Document) (service.IngestReport, error) {
	f.ingested = doc
	if f.ingestErr != nil {
		return service.IngestReport{}, f.ingestErr
	}
	return service.IngestReport{DocumentID: doc.ID, Source: doc.Source, Chunks: 2}, nil
}

func (f *fakeService) Remove(context.Context, string) (int, error) { return f.removed, nil }

func (f *fakeService) Health(context.Context) map[string]string { return f.health }

func (f *fakeService) Documents(context.Context) ([]catalog.Record, error) { return nil, nil }

func newTestServer(svc Service, cfg config.ServerConfig) *Server {
	return New(svc, Options{Server: cfg, Metrics: metrics.New(), Logger: zerolog.Nop()})
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestQuery(t *testing.T) {
	svc := &fakeService{answer: domain.Answer{
		Text:      "The sky is blue. [1]",
		Citations: []domain.Citation{{Label: 1, DocumentID: "sky", Source: "sky.txt", Text: "The sky is blue."}},
		Latency:   42 * time.Millisecond,
	}}
	h := newTestServer(svc, config.ServerConfig{}).Handler()

	w := do(t, h, http.MethodPost, "/query", []byte(`{"question":"What color is the sky?","top_k":2,"threshold":0.3}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	var resp queryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "The sky is blue. [1]", resp.Answer)
	assert.Equal(t, int64(42), resp.LatencyMS)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, sourceSnippet{Filename: "sky.txt", Text: "The sky is blue."}, resp.Sources[0])

	assert.Equal(t, "What color is the sky?", svc.gotQuery)
	assert.Equal(t, 2, svc.gotOpts.TopK)
	require.NotNil(t, svc.gotOpts.MinScore)
	assert.InDelta(t, 0.3, *svc.gotOpts.MinScore, 1e-9)
}

func TestQuery_AcceptsQueryField(t *testing.T) {
	svc := &fakeService{answer: domain.Answer{Text: "x", InsufficientContext: true}}
	h := newTestServer(svc, config.ServerConfig{}).Handler()

	w := do(t, h, http.MethodPost, "/query", []byte(`{"query":"anything"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anything", svc.gotQuery)
	assert.Nil(t, svc.gotOpts.MinScore)
	assert.Contains(t, w.Body.String(), `"citations":[]`)
	assert.Contains(t, w.Body.String(), `"insufficient_context":true`)
}

func TestQuery_BadRequests(t *testing.T) {
	h := newTestServer(&fakeService{}, config.ServerConfig{}).Handler()
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"question":`},
		{"zero top_k", `{"question":"q","top_k":0}`},
		{"threshold out of range", `{"question":"q","threshold":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/query", []byte(tt.body), "application/json")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "bad_request", resp.ErrorCode)
		})
	}
}

func TestQuery_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&service.Error{Kind: domain.KindEmptyInput, Stage: service.StageReceived, Err: domain.ErrEmptyInput}, http.StatusBadRequest, "empty_input"},
		{&service.Error{Kind: domain.KindEmbeddingBackend, Stage: service.StageEmbedding, Err: domain.ErrEmbeddingBackend}, http.StatusBadGateway, "embedding_backend_error"},
		{&service.Error{Kind: domain.KindGenerationBackend, Stage: service.StageSynthesizing, Err: domain.ErrGenerationBackend}, http.StatusBadGateway, "generation_backend_error"},
		{&service.Error{Kind: domain.KindDimensionMismatch, Stage: service.StageRetrieving, Err: domain.ErrDimensionMismatch}, http.StatusInternalServerError, "dimension_mismatch"},
		{&service.Error{Kind: domain.KindCanceled, Stage: service.StageEmbedding, Err: context.Canceled}, StatusClientClosedRequest, "canceled"},
		{&service.Error{Kind: domain.KindDeadline, Stage: service.StageSynthesizing, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "deadline_exceeded"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := newTestServer(&fakeService{answerErr: tt.err}, config.ServerConfig{}).Handler()
			w := do(t, h, http.MethodPost, "/query", []byte(`{"question":"q"}`), "application/json")
			assert.Equal(t, tt.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.ErrorCode)
		})
	}
}

func multipartBody(t *testing.T, filename, content string, fields map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, config.ServerConfig{}).Handler()

	body, ct := multipartBody(t, "notes.txt", "The sky is blue.", nil)
	w := do(t, h, http.MethodPost, "/upload", body, ct)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, service.DocumentID("notes.txt"), resp["document_id"])
	assert.EqualValues(t, 2, resp["chunks_uploaded"])
	assert.Equal(t, "notes.txt", svc.ingested.Source)
	assert.Equal(t, "The sky is blue.", string(svc.ingested.Content))

	body, ct = multipartBody(t, "notes.txt", "x", map[string]string{"document_id": "custom"})
	w = do(t, h, http.MethodPost, "/upload", body, ct)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "custom", svc.ingested.ID)
}

func TestUpload_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		h := newTestServer(&fakeService{}, config.ServerConfig{}).Handler()
		w := do(t, h, http.MethodPost, "/upload", []byte("{}"), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("too large", func(t *testing.T) {
		h := newTestServer(&fakeService{}, config.ServerConfig{MaxUploadBytes: 64}).Handler()
		body, ct := multipartBody(t, "big.txt", strings.Repeat("a", 1024), nil)
		w := do(t, h, http.MethodPost, "/upload", body, ct)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
	t.Run("unsupported format", func(t *testing.T) {
		err := &service.Error{Kind: domain.KindUnsupportedFormat, Stage: service.StageLoading, Err: domain.ErrUnsupportedFormat}
		h := newTestServer(&fakeService{ingestErr: err}, config.ServerConfig{}).Handler()
		body, ct := multipartBody(t, "a.zip", "PK", nil)
		w := do(t, h, http.MethodPost, "/upload", body, ct)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), `"stage":"loading"`)
	})
}

func TestRemoveAndList(t *testing.T) {
	h := newTestServer(&fakeService{removed: 3}, config.ServerConfig{}).Handler()

	w := do(t, h, http.MethodDelete, "/documents/sky", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":3}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/documents", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"documents":[]}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]string
		status     int
		want       string
	}{
		{"all ok", map[string]string{"index": "ok", "generator": "ok"}, http.StatusOK, "ok"},
		{"generator down", map[string]string{"index": "ok", "generator": "breaker open"}, http.StatusOK, "degraded"},
		{"index down", map[string]string{"index": "connection refused"}, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeService{health: tt.components}, config.ServerConfig{}).Handler()
			w := do(t, h, http.MethodGet, "/health", nil, "")
			assert.Equal(t, tt.status, w.Code)
			var resp struct {
				Status     string            `json:"status"`
				Components map[string]string `json:"components"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, tt.components, resp.Components)
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(&fakeService{health: map[string]string{"index": "ok"}}, config.ServerConfig{RateLimit: 0.001, RateBurst: 1}).Handler()

	w := do(t, h, http.MethodDelete, "/documents/a", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodDelete, "/documents/a", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	// Health is never limited.
	w = do(t, h, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDIsKept(t *testing.T) {
	h := newTestServer(&fakeService{health: map[string]string{"index": "ok"}}, config.ServerConfig{}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakeService{health: map[string]string{"index": "ok"}}, config.ServerConfig{}).Handler()
	do(t, h, http.MethodGet, "/health", nil, "")
	w := do(t, h, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestNotFound(t *testing.T) {
	h := newTestServer(&fakeService{}, config.ServerConfig{}).Handler()
	w := do(t, h, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error_code":"not_found"`)
}
