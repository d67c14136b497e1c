// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"timeline-rag-api/internal/domain/entity"
)

// IngestionJobRepository 入库任务仓储接口
type IngestionJobRepository interface {
	// Create 创建任务
	Create(ctx context.Context, job *entity.IngestionJob) error

	// GetByID 根据 ID 获取任务
	GetByID(ctx context.Context, tenantID, id string) (*entity.IngestionJob, error)

	// MarkRunning 标记任务开始
	MarkRunning(ctx context.Context, id string) error

	// MarkFinished 记录任务结果；err 非空时为失败
	MarkFinished(ctx context.Context, id string, result *entity.IngestionResult, err error) error

	// ListByTenant 获取租户最近的任务
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*entity.IngestionJob, error)
}
