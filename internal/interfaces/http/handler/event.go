// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"timeline-rag-api/internal/interfaces/http/dto"
)

// TimelineHandler 时间轴与事件详情处理器
type TimelineHandler struct {
	svc TimelineService
}

// NewTimelineHandler 创建时间轴处理器
func NewTimelineHandler(svc TimelineService) *TimelineHandler {
	return &TimelineHandler{svc: svc}
}

// ListTimeline 时间轴
// @Summary 时间轴
// @Description 按时间排序的事件列表
// @Tags Timeline
// @Produce json
// @Success 200 {object} dto.Response[dto.TimelineResponse]
// @Router /v1/timeline [get]
func (h *TimelineHandler) ListTimeline(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context(), tenantOf(c))
	if err != nil {
		fail(c, "list timeline", err)
		return
	}
	dto.Success(c, dto.ToTimelineResponse(items))
}

// GetEvent 事件详情
// @Summary 事件详情
// @Tags Timeline
// @Produce json
// @Param title path string true "事件标题"
// @Success 200 {object} dto.Response[dto.EventResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/events/{title} [get]
func (h *TimelineHandler) GetEvent(c *gin.Context) {
	view, err := h.svc.Detail(c.Request.Context(), tenantOf(c), dto.BindEventTitle(c))
	if err != nil {
		fail(c, "get event", err)
		return
	}
	dto.Success(c, dto.ToEventResponse(view))
}
