// Package httpapi exposes the query and ingestion service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/catalog"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/config"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/metrics"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/service"
)

// Service is the part of service.Service the HTTP layer calls.
type Service interface {
	Answer(ctx context.Context, query string, opts service.Options) (domain.Answer, error)
	Ingest(ctx context.Context, doc domain.Document) (service.IngestReport, error)
	Remove(ctx context.Context, docID string) (int, error)
	Health(ctx context.Context) map[string]string
	Documents(ctx context.Context) ([]catalog.Record, error)
}

// Options configures a Server. Metrics is optional; /metrics is served
// only when it is set.
type Options struct {
	Server      config.ServerConfig
	ServiceName string
	Metrics     *metrics.Metrics
	MetricsPath string
	Logger      zerolog.Logger
}

type Server struct {
	svc       Service
	engine    *gin.Engine
	http      *http.Server
	maxUpload int64
	log       zerolog.Logger
}

func New(svc Service, opts Options) *Server {
	log := opts.Logger.With().Str("component", "http").Logger()
	if opts.ServiceName == "" {
		opts.ServiceName = "docquery"
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	maxUpload := opts.Server.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}

	engine := gin.New()
	engine.Use(
		Recovery(log),
		RequestID(),
		otelgin.Middleware(opts.ServiceName),
		AccessLog(log),
		CORS(opts.Server.AllowOrigins),
	)
	if opts.Metrics != nil {
		engine.Use(Metrics(opts.Metrics))
	}
	engine.Use(RateLimit(opts.Server.RateLimit, opts.Server.RateBurst))

	s := &Server{svc: svc, engine: engine, maxUpload: maxUpload, log: log}
	engine.POST("/query", s.handleQuery)
	engine.POST("/upload", s.handleUpload)
	engine.GET("/documents", s.handleListDocuments)
	engine.DELETE("/documents/:id", s.handleRemove)
	engine.GET("/health", s.handleHealth)
	if opts.Metrics != nil {
		engine.GET(opts.MetricsPath, gin.WrapH(opts.Metrics.Handler()))
	}
	engine.NoRoute(func(c *gin.Context) {
		RespondWithError(c, http.StatusNotFound, "not_found", "route not found", nil)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Server.Host, opts.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks until the server stops. A graceful shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
