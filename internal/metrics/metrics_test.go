package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.Stage("embedding", "ok", 10*time.Millisecond)
	m.Stage("embedding", "ok", 0)
	m.Stage("retrieving", "failed", time.Millisecond)
	m.Ingest("indexed", 4)
	m.Cache(true)
	m.Cache(false)
	m.Cache(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stageTotal.WithLabelValues("embedding", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageTotal.WithLabelValues("retrieving", "failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ingestChunks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheTotal.WithLabelValues("miss")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Stage("embedding", "ok", time.Second)
		m.Ingest("failed", 0)
		m.Cache(true)
		m.Request("GET", "/health", "200", time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Request("POST", "/query", "200", 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `docquery_http_requests_total{method="POST",route="/query",status="200"} 1`)
}
