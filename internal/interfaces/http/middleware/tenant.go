// Package middleware 提供 HTTP 中间件
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"timeline-rag-api/internal/interfaces/http/dto"
	"timeline-rag-api/pkg/logger"
)

// TenantHeader 默认租户请求头
const TenantHeader = "X-Tenant-ID"

const tenantGinKey = "tenant_id"

// TenantConfig 租户中间件配置
type TenantConfig struct {
	// HeaderName 从 Header 中获取租户 ID 的字段名
	HeaderName string
	// DefaultTenantID 请求未携带租户时使用（开发环境）；为空则拒绝请求
	DefaultTenantID string
	// MaxLength 租户 ID 最大长度
	MaxLength int
}

// Tenant 从请求头解析租户，写入 gin 与日志上下文。所有存储按租户隔离。
func Tenant(cfg TenantConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = TenantHeader
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 128
	}

	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if tenantID == "" {
			tenantID = cfg.DefaultTenantID
		}
		if tenantID == "" {
			dto.BadRequest(c, "missing "+cfg.HeaderName+" header")
			c.Abort()
			return
		}
		if len(tenantID) > cfg.MaxLength {
			dto.BadRequest(c, "tenant id too long")
			c.Abort()
			return
		}

		c.Set(tenantGinKey, tenantID)
		trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("tenant_id", tenantID))
		ctx := logger.WithContext(c.Request.Context(), logger.TenantIDKey, tenantID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetTenantIDFromGin 从 Gin Context 中获取租户 ID
func GetTenantIDFromGin(c *gin.Context) string {
	return c.GetString(tenantGinKey)
}
