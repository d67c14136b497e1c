// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, h *Handlers) {
	// 文档入库
	documents := v1.Group("/documents")
	{
		documents.POST("", h.Documents.SubmitDocument)
		documents.GET("/:name/segments", h.Documents.ListSegments)
	}

	// 入库任务
	jobs := v1.Group("/jobs")
	{
		jobs.GET("", h.Documents.ListJobs)
		jobs.GET("/:jid", h.Documents.GetJob)
	}

	// 时间轴与事件
	v1.GET("/timeline", h.Timeline.ListTimeline)
	v1.GET("/events/:title", h.Timeline.GetEvent)

	// 问答与检索
	v1.POST("/query", h.Query.Query)
	v1.POST("/retrieval/search", h.Query.Search)

	// 处理状态
	status := v1.Group("/status")
	{
		status.GET("", h.Status.GetStatus)
		status.GET("/stream", h.Status.StreamStatus) // SSE
	}
}
