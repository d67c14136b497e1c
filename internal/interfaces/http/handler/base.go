// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"timeline-rag-api/internal/application/agent"
	"timeline-rag-api/internal/application/ingest"
	"timeline-rag-api/internal/application/timeline"
	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/interfaces/http/dto"
	"timeline-rag-api/internal/interfaces/http/middleware"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/logger"
)

// DocumentService 文档入库
type DocumentService interface {
	Submit(ctx context.Context, tenantID string, req ingest.SubmitRequest) (*entity.IngestionJob, error)
	Job(ctx context.Context, tenantID, id string) (*entity.IngestionJob, error)
	Jobs(ctx context.Context, tenantID string, limit int) ([]*entity.IngestionJob, error)
}

// TimelineService 时间轴查询
type TimelineService interface {
	List(ctx context.Context, tenantID string) ([]*entity.TimelineEntry, error)
	Detail(ctx context.Context, tenantID, title string) (*timeline.EventView, error)
	Segments(ctx context.Context, tenantID, document string) ([]*entity.ArticleSegment, error)
}

// QuestionAnswerer 多步推理问答
type QuestionAnswerer interface {
	Ask(ctx context.Context, tenantID, question string, maxAttempts int) (*agent.Answer, error)
}

// Searcher 混合检索
type Searcher interface {
	SearchBlocks(ctx context.Context, tenantID, query string) ([]string, error)
}

// fail 输出错误响应，5xx 记录日志
func fail(c *gin.Context, op string, err error) {
	appErr := apperrors.AsAppError(err)
	if appErr.HTTPStatus == 0 || appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), op+" failed", err)
	}
	dto.AppError(c, appErr)
}

func tenantOf(c *gin.Context) string {
	return middleware.GetTenantIDFromGin(c)
}
