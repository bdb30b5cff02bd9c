package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	correlationIDHeader = "X-Correlation-ID"
	correlationIDKey    = "correlationID"
)

// Correlation injects a correlation ID into every request for distributed
// tracing. An inbound X-Correlation-ID is honored; otherwise one is
// generated. The ID is echoed on the response and carried into published
// job headers downstream.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationIDKey, id)
		c.Header(correlationIDHeader, id)

		slog.Info("incoming request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"correlation_id", id,
		)

		c.Next()
	}
}

// CorrelationID returns the correlation ID set by Correlation.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}
