package ingest

import (
	"context"
	"time"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/logger"
)

// Job 入库任务载荷
type Job struct {
	ID           string
	TenantID     string
	DocumentName string
	Text         string
	Source       entity.SourceKind
	SourceURL    string
}

// Worker 执行入库任务：同一租户同一时间只运行一个任务
type Worker struct {
	pipeline *Pipeline
	jobs     repository.IngestionJobRepository
	locker   repository.TenantLocker
	lockTTL  time.Duration
}

func NewWorker(pipeline *Pipeline, jobs repository.IngestionJobRepository, locker repository.TenantLocker, lockTTL time.Duration) *Worker {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Worker{pipeline: pipeline, jobs: jobs, locker: locker, lockTTL: lockTTL}
}

// Run 执行一个任务。
// 租户锁被占用时返回 CodeIngestionBusy，由调用方稍后重试；
// 流水线失败会记录到任务上并返回 nil，部分写入已经发生，重放只会产生重复数据。
func (w *Worker) Run(ctx context.Context, job *Job) error {
	ctx = logger.WithContext(ctx, logger.TenantIDKey, job.TenantID)
	ctx = logger.WithContext(ctx, logger.JobIDKey, job.ID)

	release, err := w.locker.Acquire(ctx, job.TenantID, w.lockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "release tenant lock failed", "error", err.Error())
		}
	}()

	if job.ID != "" {
		existing, err := w.jobs.GetByID(ctx, job.TenantID, job.ID)
		if err != nil && !apperrors.HasCode(err, apperrors.CodeJobNotFound) {
			return err
		}
		if existing != nil && (existing.Status == entity.JobStatusCompleted || existing.Status == entity.JobStatusFailed) {
			logger.Info(ctx, "job already finished, skipping", "status", string(existing.Status))
			return nil
		}
		if err := w.jobs.MarkRunning(ctx, job.ID); err != nil {
			return err
		}
	}

	logger.Info(ctx, "ingestion started", "document", job.DocumentName)
	result, runErr := w.pipeline.Process(ctx, job.TenantID, Document{Name: job.DocumentName, Text: job.Text})

	if job.ID != "" {
		if err := w.jobs.MarkFinished(context.WithoutCancel(ctx), job.ID, result, runErr); err != nil {
			logger.Error(ctx, "record job outcome failed", err)
		}
	}
	return nil
}

// Abandon 把未结束的任务记为失败，已结束的任务保持原状
func (w *Worker) Abandon(ctx context.Context, tenantID, jobID string, cause error) error {
	existing, err := w.jobs.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if existing.Status == entity.JobStatusCompleted || existing.Status == entity.JobStatusFailed {
		return nil
	}
	logger.Warn(ctx, "ingestion job abandoned", "job_id", jobID, "error", cause.Error())
	return w.jobs.MarkFinished(ctx, jobID, nil, cause)
}
