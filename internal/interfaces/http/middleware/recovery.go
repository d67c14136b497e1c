// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"timeline-rag-api/internal/interfaces/http/dto"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/logger"
)

// Recovery Panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", r),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				dto.ErrorWithDetail(c, http.StatusInternalServerError, apperrors.ErrInternalError.Message, &dto.ErrorDetail{
					ErrorCode: string(apperrors.CodeInternalError),
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
