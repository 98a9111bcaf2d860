package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// Logger 访问日志中间件. 耗时超过 slowThreshold 的请求以 WARN 级别输出，slowThreshold <= 0 时不区分。
func Logger(logger *slog.Logger, slowThreshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		cost := time.Since(start)

		traceID := ""
		if spanCtx := trace.SpanContextFromContext(c.Request.Context()); spanCtx.HasTraceID() {
			traceID = spanCtx.TraceID().String()
		}

		level := slog.LevelInfo
		msg := "HTTP Request"
		if slowThreshold > 0 && cost > slowThreshold {
			level = slog.LevelWarn
			msg = "HTTP Slow Request"
		}

		logger.Log(c.Request.Context(), level, msg,
			"trace_id", traceID,
			"request_id", c.GetString(ContextKeyRequestID),
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"ip", c.ClientIP(),
			"cost", cost,
			"errors", c.Errors.ByType(gin.ErrorTypeAny).String(),
		)
	}
}
