package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/acgov/go-mesh/logger"
)

// RequestLogConfig tunes the request logging middleware.
type RequestLogConfig struct {
	// SkipPaths are not logged at all, typically health probes.
	SkipPaths []string
}

// RequestLog logs one structured line per request. Status 5xx logs at
// error, 4xx at warn, everything else at info.
func RequestLog(log *logger.CtxZapLogger, cfg RequestLogConfig) gin.HandlerFunc {
	if log == nil {
		log = logger.NewNopLogger()
	}
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			log.ErrorCtx(ctx, "http request", fields...)
		case status >= 400:
			log.WarnCtx(ctx, "http request", fields...)
		default:
			log.InfoCtx(ctx, "http request", fields...)
		}
	}
}
