// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"timeline-rag-api/internal/application/ingest"
	"timeline-rag-api/internal/interfaces/http/dto"
)

// DocumentHandler 文档上传与入库任务处理器
type DocumentHandler struct {
	docs     DocumentService
	timeline TimelineService
}

// NewDocumentHandler 创建文档处理器
func NewDocumentHandler(docs DocumentService, timeline TimelineService) *DocumentHandler {
	return &DocumentHandler{docs: docs, timeline: timeline}
}

// SubmitDocument 上传文档
// @Summary 上传文档
// @Description 提交文本或链接，异步入库
// @Tags Documents
// @Accept json
// @Produce json
// @Param body body dto.SubmitDocumentRequest true "文档"
// @Success 202 {object} dto.Response[dto.SubmitDocumentResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse "链接内容获取失败"
// @Router /v1/documents [post]
func (h *DocumentHandler) SubmitDocument(c *gin.Context) {
	var req dto.SubmitDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	job, err := h.docs.Submit(c.Request.Context(), tenantOf(c), ingest.SubmitRequest{
		Name: req.Name,
		Text: req.Text,
		URL:  req.URL,
	})
	if err != nil {
		fail(c, "submit document", err)
		return
	}
	dto.Accepted(c, &dto.SubmitDocumentResponse{
		JobID:  job.ID,
		Status: string(job.Status),
		Source: string(job.Source),
	})
}

// GetJob 获取入库任务
// @Summary 获取入库任务
// @Tags Documents
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.JobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/jobs/{jid} [get]
func (h *DocumentHandler) GetJob(c *gin.Context) {
	job, err := h.docs.Job(c.Request.Context(), tenantOf(c), dto.BindJobID(c))
	if err != nil {
		fail(c, "get job", err)
		return
	}
	dto.Success(c, dto.ToJobResponse(job))
}

// ListJobs 最近的入库任务
// @Summary 入库任务列表
// @Tags Documents
// @Produce json
// @Param limit query int false "数量上限"
// @Success 200 {object} dto.Response[dto.JobListResponse]
// @Router /v1/jobs [get]
func (h *DocumentHandler) ListJobs(c *gin.Context) {
	jobs, err := h.docs.Jobs(c.Request.Context(), tenantOf(c), dto.BindLimit(c, 20, 100))
	if err != nil {
		fail(c, "list jobs", err)
		return
	}
	dto.Success(c, dto.ToJobListResponse(jobs))
}

// ListSegments 文档分块与滚动摘要
// @Summary 文档分块
// @Tags Documents
// @Produce json
// @Param name path string true "文档名"
// @Success 200 {object} dto.Response[dto.SegmentListResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/documents/{name}/segments [get]
func (h *DocumentHandler) ListSegments(c *gin.Context) {
	name := dto.BindDocumentName(c)
	segs, err := h.timeline.Segments(c.Request.Context(), tenantOf(c), name)
	if err != nil {
		fail(c, "list segments", err)
		return
	}
	dto.Success(c, dto.ToSegmentListResponse(name, segs))
}
