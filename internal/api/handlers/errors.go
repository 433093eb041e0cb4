package handlers

import (
	"net/http"

	"example.com/backstage/services/keygate/internal/services"
	"example.com/backstage/services/keygate/internal/store"
	"example.com/backstage/services/keygate/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// APIError is a domain error resolved to an HTTP status
type APIError struct {
	Message    string
	StatusCode int
	Code       string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// NewValidationError creates a 400 error with a custom message
func NewValidationError(message string) *APIError {
	return &APIError{Message: message, StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR"}
}

var statusBySentinel = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{services.ErrExpired, http.StatusGone, "EXPIRED"},
	{services.ErrConsumerLimitExceeded, http.StatusConflict, "CONSUMER_LIMIT_EXCEEDED"},
	{services.ErrDuplicateToken, http.StatusConflict, "DUPLICATE_TOKEN"},
	{services.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{services.ErrBlocked, http.StatusForbidden, "BLOCKED"},
	{services.ErrUnsupported, http.StatusUnprocessableEntity, "UNSUPPORTED"},
	{services.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{store.ErrStorageUnavailable, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
}

// toAPIError maps err onto a status. Server-side failures keep their detail out of the reply.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			msg := err.Error()
			if s.status >= http.StatusInternalServerError {
				msg = s.err.Error()
			}
			return &APIError{Message: msg, StatusCode: s.status, Code: s.code}
		}
	}
	return &APIError{Message: "Internal server error", StatusCode: http.StatusInternalServerError, Code: "INTERNAL_ERROR"}
}

// respondError writes err as JSON and aborts the chain
func respondError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		tracing.NoticeError(c, err)
	} else {
		log.Warn().Err(err).Str("path", c.Request.URL.Path).Int("status", apiErr.StatusCode).Msg("Request rejected")
	}
	c.AbortWithStatusJSON(apiErr.StatusCode, ErrorResponse{Message: apiErr.Message, Code: apiErr.Code})
}
