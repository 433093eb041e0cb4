package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"example.com/backstage/services/keygate/internal/api/handlers"
	"example.com/backstage/services/keygate/internal/gate"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Constants for middleware
const (
	requestIDKey = "X-Request-ID"
)

// RequestIDMiddleware adds a request ID to the context
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get request ID from header or generate a new one
		requestID := c.GetHeader(requestIDKey)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(requestIDKey, requestID)
		c.Header(requestIDKey, requestID)

		c.Next()
	}
}

// LoggingMiddleware logs API requests
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		default:
			event = log.Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", c.GetString(requestIDKey)).
			Str("client_ip", gate.ClientIP(c)).
			Msg("API request")
	}
}

// AdminAuth guards the admin console with a shared secret passed as a query
// parameter. An empty secret closes the console entirely.
func AdminAuth(secret, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, handlers.ErrorResponse{Message: "Admin console disabled", Code: "NOT_FOUND"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(c.Query(param)), []byte(secret)) != 1 {
			log.Warn().Str("client_ip", gate.ClientIP(c)).Str("path", c.Request.URL.Path).Msg("Admin access denied")
			c.AbortWithStatusJSON(http.StatusUnauthorized, handlers.ErrorResponse{Message: "Unauthorized", Code: "UNAUTHORIZED"})
			return
		}
		c.Next()
	}
}
