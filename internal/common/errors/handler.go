package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Logger is the subset of the logging interface the handler needs.
type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// HTTPStatusMapping maps error codes to REST status codes.
var HTTPStatusMapping = map[ErrorCode]int{
	ErrCodeValidationFailed:        http.StatusBadRequest,
	ErrCodeNoEligibleRecipients:    http.StatusBadRequest,
	ErrCodeInvalidStatusTransition: http.StatusBadRequest,
	ErrCodeNotFound:                http.StatusNotFound,
	ErrCodeUpstreamUnavailable:     http.StatusBadGateway,
	ErrCodeTimeout:                 http.StatusInternalServerError,
	ErrCodeStoreUnavailable:        http.StatusInternalServerError,
	ErrCodeInternal:                http.StatusInternalServerError,
}

// HTTPStatus returns the status code for any error.
func HTTPStatus(err error) int {
	stdErr := Normalize(err)
	if status, ok := HTTPStatusMapping[stdErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorHandler writes standardized JSON error responses.
type ErrorHandler struct {
	logger Logger
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Respond normalizes err, logs it and aborts the request with the mapped status.
func (h *ErrorHandler) Respond(c *gin.Context, err error) {
	stdErr := Normalize(err)
	status := HTTPStatus(stdErr)

	fields := map[string]interface{}{
		"path":          c.FullPath(),
		"method":        c.Request.Method,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"errorCategory": GetErrorCategory(stdErr.Code),
		"status":        status,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields)
	} else {
		h.logger.Warn("request rejected", fields)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    stdErr.Code,
			"message": stdErr.Message,
			"details": stdErr.Details,
		},
	})
}
