// Package middleware 提供 HTTP 中间件
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"timeline-rag-api/pkg/logger"
	"timeline-rag-api/pkg/tracer"
)

// TraceIDHeader 响应中回传 trace ID
const TraceIDHeader = "X-Trace-ID"

// probePaths 探活与指标请求不产生 span
var probePaths = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/live":    {},
	"/metrics": {},
}

// Trace OpenTelemetry 追踪中间件
func Trace(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		_, probe := probePaths[r.URL.Path]
		return !probe
	}))
}

// TraceContext 把 trace_id 写入 gin、日志上下文与响应头
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if traceID, spanID := tracer.IDs(c.Request.Context()); traceID != "" {
			c.Set("trace_id", traceID)

			ctx := logger.WithContext(c.Request.Context(), logger.TraceIDKey, traceID)
			ctx = logger.WithContext(ctx, logger.SpanIDKey, spanID)
			c.Request = c.Request.WithContext(ctx)
			c.Header(TraceIDHeader, traceID)
		}
		c.Next()
	}
}
