// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	"timeline-rag-api/internal/interfaces/http/dto"
	"timeline-rag-api/pkg/logger"
)

// IdleStatus 尚无状态时推送的标签
const IdleStatus = "等待操作..."

// StatusHandler 租户处理状态查询与 SSE 推送
type StatusHandler struct {
	store       repository.StatusStore
	pollEvery   time.Duration
	idleTimeout time.Duration
	heartbeat   int
}

// NewStatusHandler 创建状态处理器；pollEvery <= 0 时为 500ms
func NewStatusHandler(store repository.StatusStore, pollEvery, idleTimeout time.Duration) *StatusHandler {
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &StatusHandler{store: store, pollEvery: pollEvery, idleTimeout: idleTimeout, heartbeat: 5}
}

type statusEvent struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
}

// GetStatus 当前状态
// @Summary 当前处理状态
// @Tags Status
// @Produce json
// @Success 200 {object} dto.Response[dto.StatusResponse]
// @Router /v1/status [get]
func (h *StatusHandler) GetStatus(c *gin.Context) {
	st, err := h.store.Read(c.Request.Context(), tenantOf(c))
	if err != nil {
		fail(c, "read status", err)
		return
	}
	dto.Success(c, dto.ToStatusResponse(st))
}

// StreamStatus 以 SSE 推送状态变化，遇到终态后清除状态并结束
// @Summary 状态推送
// @Tags Status
// @Produce text/event-stream
// @Success 200 "SSE stream"
// @Router /v1/status/stream [get]
func (h *StatusHandler) StreamStatus(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := tenantOf(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	last := h.read(ctx, tenantID)
	if last == "" {
		last = IdleStatus
	}
	c.SSEvent("heartbeat", statusEvent{Type: "heartbeat", Status: "connected"})
	c.SSEvent("status", statusEvent{Type: "status", Status: last})
	c.Writer.Flush()
	if entity.IsTerminalStatus(last) {
		h.clear(ctx, tenantID)
		return
	}

	ticker := time.NewTicker(h.pollEvery)
	defer ticker.Stop()
	idleSince := time.Now()
	polls := 0

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		polls++
		if polls%h.heartbeat == 0 {
			c.SSEvent("heartbeat", statusEvent{Type: "heartbeat"})
		}

		cur := h.read(ctx, tenantID)
		if cur == "" || cur == last {
			if time.Since(idleSince) >= h.idleTimeout {
				logger.Debug(ctx, "status stream idle timeout")
				return false
			}
			return true
		}

		last = cur
		idleSince = time.Now()
		c.SSEvent("status", statusEvent{Type: "status", Status: cur})
		if entity.IsTerminalStatus(cur) {
			h.clear(ctx, tenantID)
			return false
		}
		return true
	})
}

func (h *StatusHandler) read(ctx context.Context, tenantID string) string {
	st, err := h.store.Read(ctx, tenantID)
	if err != nil {
		logger.Warn(ctx, "status read failed", "error", err.Error())
		return ""
	}
	if st == nil {
		return ""
	}
	return st.Label
}

func (h *StatusHandler) clear(ctx context.Context, tenantID string) {
	if err := h.store.Clear(context.WithoutCancel(ctx), tenantID); err != nil {
		logger.Warn(ctx, "status clear failed", "error", err.Error())
	}
}
