// Package middleware holds the gin middleware used by the admin surface:
// trace propagation, request logging and panic recovery.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/acgov/go-mesh/logger"
)

// TraceIDHeader is the inbound and outbound trace header.
const TraceIDHeader = "X-Trace-ID"

// TraceID extracts the trace ID from the request header, generating one
// when absent, and threads it through the request context so log lines
// carry it. The ID is echoed in the response header.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.WithTraceID(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(TraceIDHeader, traceID)

		c.Next()
	}
}
