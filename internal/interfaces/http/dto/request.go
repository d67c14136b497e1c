// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// BindJobID 从 URI 绑定任务 ID
func BindJobID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("jid"))
}

// BindEventTitle 从 URI 绑定事件标题（gin 已完成 URL 解码）
func BindEventTitle(c *gin.Context) string {
	return strings.TrimSpace(c.Param("title"))
}

// BindDocumentName 从 URI 绑定文档名
func BindDocumentName(c *gin.Context) string {
	return strings.TrimSpace(c.Param("name"))
}

// BindLimit 绑定 limit 查询参数，范围 [1, max]
func BindLimit(c *gin.Context, def, max int) int {
	n := parseIntWithDefault(c.Query("limit"), def)
	if n < 1 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

// parseIntWithDefault 解析整数，失败时返回默认值
func parseIntWithDefault(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
