// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
)

// JobRepository 入库任务仓储实现
type JobRepository struct {
	client *Client
}

var _ repository.IngestionJobRepository = (*JobRepository)(nil)

// NewJobRepository 创建任务仓储
func NewJobRepository(client *Client) *JobRepository {
	return &JobRepository{client: client}
}

// Create 创建任务
func (r *JobRepository) Create(ctx context.Context, job *entity.IngestionJob) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Create")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(job).Error; err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "create job")
	}
	return nil
}

// GetByID 根据 ID 获取任务，不存在时返回 CodeJobNotFound
func (r *JobRepository) GetByID(ctx context.Context, tenantID, id string) (*entity.IngestionJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.GetByID")
	defer span.End()

	var job entity.IngestionJob
	err := getDB(ctx, r.client.db).First(&job, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrJobNotFound.WithDetail(id)
		}
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "get job")
	}
	return &job, nil
}

// MarkRunning 标记任务开始
func (r *JobRepository) MarkRunning(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.MarkRunning")
	defer span.End()

	now := time.Now()
	err := getDB(ctx, r.client.db).
		Model(&entity.IngestionJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     entity.JobStatusRunning,
			"started_at": now,
		}).Error
	if err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "mark job running")
	}
	return nil
}

// MarkFinished 记录任务结果
func (r *JobRepository) MarkFinished(ctx context.Context, id string, result *entity.IngestionResult, runErr error) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.MarkFinished")
	defer span.End()

	updates := map[string]any{
		"status":       entity.JobStatusCompleted,
		"completed_at": time.Now(),
	}
	if result != nil {
		updates["segments"] = result.Segments
		updates["relations"] = result.Relations
		updates["failed_events"] = result.FailedEvents
		updates["event_titles"] = pq.StringArray(result.EventTitles)
	}
	if runErr != nil {
		updates["status"] = entity.JobStatusFailed
		updates["error_message"] = runErr.Error()
	}

	err := getDB(ctx, r.client.db).
		Model(&entity.IngestionJob{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "mark job finished")
	}
	return nil
}

// ListByTenant 获取租户最近的任务
func (r *JobRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*entity.IngestionJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.ListByTenant")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	var jobs []*entity.IngestionJob
	err := getDB(ctx, r.client.db).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "list jobs")
	}
	return jobs, nil
}
