package httpapi

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/service"
)

type queryRequest struct {
	Question  string   `json:"question"`
	Query     string   `json:"query"`
	TopK      *int     `json:"top_k"`
	Threshold *float64 `json:"threshold"`
}

type sourceSnippet struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

type queryResponse struct {
	Answer              string            `json:"answer"`
	Citations           []domain.Citation `json:"citations"`
	Sources             []sourceSnippet   `json:"sources"`
	InsufficientContext bool              `json:"insufficient_context"`
	LatencyMS           int64             `json:"latency_ms"`
	Cached              bool              `json:"cached"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithBadRequest(c, "invalid request body", gin.H{"reason": err.Error()})
		return
	}
	question := req.Question
	if strings.TrimSpace(question) == "" {
		question = req.Query
	}
	var opts service.Options
	if req.TopK != nil {
		if *req.TopK <= 0 {
			RespondWithBadRequest(c, "top_k must be positive", gin.H{"top_k": *req.TopK})
			return
		}
		opts.TopK = *req.TopK
	}
	if req.Threshold != nil {
		if *req.Threshold < -1 || *req.Threshold > 1 {
			RespondWithBadRequest(c, "threshold must be within [-1, 1]", gin.H{"threshold": *req.Threshold})
			return
		}
		opts.MinScore = req.Threshold
	}

	ans, err := s.svc.Answer(c.Request.Context(), question, opts)
	if err != nil {
		respondWithServiceError(c, err)
		return
	}
	resp := queryResponse{
		Answer:              ans.Text,
		Citations:           ans.Citations,
		Sources:             make([]sourceSnippet, 0, len(ans.Citations)),
		InsufficientContext: ans.InsufficientContext,
		LatencyMS:           ans.Latency.Milliseconds(),
		Cached:              ans.Cached,
	}
	if resp.Citations == nil {
		resp.Citations = []domain.Citation{}
	}
	for _, cit := range ans.Citations {
		resp.Sources = append(resp.Sources, sourceSnippet{Filename: cit.Source, Text: cit.Text})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondWithError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds the size limit", gin.H{"limit_bytes": s.maxUpload})
			return
		}
		RespondWithBadRequest(c, "multipart field \"file\" is required", gin.H{"reason": err.Error()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		RespondWithBadRequest(c, "cannot read upload", gin.H{"reason": err.Error()})
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		RespondWithBadRequest(c, "cannot read upload", gin.H{"reason": err.Error()})
		return
	}

	// Uploads are keyed by base name, as files added on their own are.
	name := filepath.Base(fh.Filename)
	id := strings.TrimSpace(c.PostForm("document_id"))
	if id == "" {
		id = service.DocumentID(name)
	}
	report, err := s.svc.Ingest(c.Request.Context(), domain.Document{
		ID:          id,
		Source:      name,
		ContentType: fh.Header.Get("Content-Type"),
		Content:     content,
		IngestedAt:  time.Now().UTC(),
	})
	if err != nil {
		respondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"document_id":     report.DocumentID,
		"chunks_uploaded": report.Chunks,
		"skipped":         report.Skipped,
		"truncated":       report.Truncated,
	})
}

func (s *Server) handleRemove(c *gin.Context) {
	n, err := s.svc.Remove(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.svc.Documents(c.Request.Context())
	if err != nil {
		respondWithServiceError(c, err)
		return
	}
	if docs == nil {
		c.JSON(http.StatusOK, gin.H{"documents": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// handleHealth answers 503 when the index is unreachable and reports other
// failing components as degraded.
func (s *Server) handleHealth(c *gin.Context) {
	components := s.svc.Health(c.Request.Context())
	status, code := "ok", http.StatusOK
	for name, state := range components {
		if state == "ok" {
			continue
		}
		if name == "index" {
			status, code = "unavailable", http.StatusServiceUnavailable
			break
		}
		status = "degraded"
	}
	c.JSON(code, gin.H{"status": status, "components": components})
}
