package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-review-backend/internal/http/middleware"
	"github.com/tbourn/go-review-backend/internal/services"
)

// statusClientClosedRequest is logged when the caller went away mid-request.
const statusClientClosedRequest = 499

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"submission \"My paper\" not found"`
}

// fail aborts with the error envelope. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error to status and code. title is echoed in
// not-found messages so the caller can see which submission was missing.
func failErr(c *gin.Context, err error, title string) {
	switch {
	case errors.Is(err, services.ErrInvalidUpload), errors.Is(err, services.ErrInvalidIntent):
		fail(c, http.StatusBadRequest, ErrCodeInvalidUpload, err.Error())
	case errors.Is(err, services.ErrEmptyTitle), errors.Is(err, services.ErrTitleTooLong):
		fail(c, http.StatusBadRequest, ErrCodeInvalidTitle, err.Error())
	case errors.Is(err, services.ErrDuplicateTitle):
		fail(c, http.StatusConflict, ErrCodeDuplicateTitle, fmt.Sprintf("a submission titled %q already exists", title))
	case errors.Is(err, services.ErrSubmissionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("submission %q not found", title))
	case errors.Is(err, services.ErrVersionNotFound):
		fail(c, http.StatusNotFound, ErrCodeVersionNotFound, fmt.Sprintf("version not found for %q", title))
	case errors.Is(err, services.ErrExtractionFailed):
		fail(c, http.StatusUnprocessableEntity, ErrCodeExtractionFailed, err.Error())
	case errors.Is(err, services.ErrScoringFailed):
		fail(c, http.StatusBadGateway, ErrCodeScoringFailed, "the scoring service could not evaluate the document")
	case errors.Is(err, services.ErrStoreUnavailable):
		c.Header("Retry-After", "5")
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "storage is temporarily unavailable")
	case errors.Is(err, services.ErrBusy):
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeBusy, err.Error())
	case errors.Is(err, services.ErrUnauthenticated):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, ErrCodeTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(statusClientClosedRequest)
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unmapped error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
