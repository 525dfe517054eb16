package middleware

import (
	"context"
	"time"

	"stash/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger attaches a request-scoped logger to the request context and
// logs one line per request once the handler chain has run.
func RequestLogger(base logger.Logger) gin.HandlerFunc {
	if base == nil {
		base = logger.FromContext(context.Background())
	}
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		log := base.With("request_id", requestID)
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), log))

		c.Next()

		status := c.Writer.Status()
		keyvals := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		switch {
		case status >= 500:
			log.Error("Request failed", keyvals...)
		case status >= 400:
			log.Warn("Request rejected", keyvals...)
		default:
			log.Info("Request handled", keyvals...)
		}
	}
}
