package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"timeline-rag-api/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 64

// RequestID 沿用客户端传入的请求 ID，缺失或超长时生成新的。
// ID 写入日志上下文，入库任务投递时随消息透传到 worker。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(string(logger.RequestIDKey), id)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), logger.RequestIDKey, id))
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
