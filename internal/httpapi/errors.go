package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/service"
)

// StatusClientClosedRequest is reported when the caller went away mid-request.
const StatusClientClosedRequest = 499

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details any) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details any) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindEmptyInput:
		return http.StatusBadRequest
	case domain.KindUnsupportedFormat, domain.KindExtraction:
		return http.StatusUnprocessableEntity
	case domain.KindEmbeddingBackend, domain.KindGenerationBackend:
		return http.StatusBadGateway
	case domain.KindCanceled:
		return StatusClientClosedRequest
	case domain.KindDeadline:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError renders err using its kind as the error code.
// Internal errors do not leak their message.
func respondWithServiceError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := StatusFor(kind)
	message := err.Error()
	var details any
	var se *service.Error
	if errors.As(err, &se) {
		details = gin.H{"stage": se.Stage}
	}
	if status == http.StatusInternalServerError && kind == domain.KindInternal {
		message = "internal error"
	}
	_ = c.Error(err)
	RespondWithError(c, status, string(kind), message, details)
}
