// Package middleware HTTP 中间件
package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"timeline-rag-api/internal/config"
)

// CORS 未配置的项使用默认值。SSE 重连需要 Last-Event-ID，默认放行。
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowOrigins:  orDefault(cfg.AllowedOrigins, "*"),
		AllowMethods:  orDefault(cfg.AllowedMethods, "GET", "POST", "OPTIONS"),
		AllowHeaders:  orDefault(cfg.AllowedHeaders, "Origin", "Content-Type", RequestIDHeader, TenantHeader, "Last-Event-ID"),
		ExposeHeaders: []string{RequestIDHeader, TraceIDHeader},
		MaxAge:        12 * time.Hour,
	}
	return cors.New(c)
}

func orDefault(values []string, defaults ...string) []string {
	if len(values) > 0 {
		return values
	}
	return defaults
}
