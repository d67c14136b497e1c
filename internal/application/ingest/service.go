package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"timeline-rag-api/internal/application/acquisition"
	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/logger"
)

// Dispatcher 投递入库任务（消息队列或进程内执行）
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) error
}

// ContentFetcher 链接正文获取
type ContentFetcher interface {
	Fetch(ctx context.Context, link string) (*acquisition.Content, error)
	Validate(text string) error
}

// SubmitRequest 上传请求：Text 与 URL 二选一；Text 中包含链接时按链接处理
type SubmitRequest struct {
	Name string
	Text string
	URL  string
}

// Service 受理上传并创建入库任务
type Service struct {
	jobs       repository.IngestionJobRepository
	dispatcher Dispatcher
	fetcher    ContentFetcher
}

func NewService(jobs repository.IngestionJobRepository, dispatcher Dispatcher, fetcher ContentFetcher) *Service {
	return &Service{jobs: jobs, dispatcher: dispatcher, fetcher: fetcher}
}

// Submit 校验或获取正文，记录任务并投递
func (s *Service) Submit(ctx context.Context, tenantID string, req SubmitRequest) (*entity.IngestionJob, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("name is required")
	}

	link := strings.TrimSpace(req.URL)
	if link == "" {
		if found, ok := acquisition.DetectLink(req.Text); ok {
			link = found
		}
	}

	source := entity.SourceText
	text := strings.TrimSpace(req.Text)
	if link != "" {
		content, err := s.fetcher.Fetch(ctx, link)
		if err != nil {
			return nil, err
		}
		source = entity.SourceLink
		text = content.Text
	} else if err := s.fetcher.Validate(text); err != nil {
		return nil, err
	}

	job := entity.NewIngestionJob(uuid.NewString(), tenantID, name, source)
	job.SourceURL = link
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	err := s.dispatcher.Dispatch(ctx, &Job{
		ID:           job.ID,
		TenantID:     tenantID,
		DocumentName: name,
		Text:         text,
		Source:       source,
		SourceURL:    link,
	})
	if err != nil {
		_ = s.jobs.MarkFinished(ctx, job.ID, nil, err)
		return nil, err
	}
	logger.Info(ctx, "ingestion job submitted", "job_id", job.ID, "document", name, "source", string(source))
	return job, nil
}

// Job 查询任务
func (s *Service) Job(ctx context.Context, tenantID, id string) (*entity.IngestionJob, error) {
	return s.jobs.GetByID(ctx, tenantID, id)
}

// Jobs 最近的任务
func (s *Service) Jobs(ctx context.Context, tenantID string, limit int) ([]*entity.IngestionJob, error) {
	return s.jobs.ListByTenant(ctx, tenantID, limit)
}

// InlineDispatcher 在后台 goroutine 中直接执行任务，租户忙时退避重试；用于内存后端
type InlineDispatcher struct {
	worker *Worker
	base   context.Context
}

func NewInlineDispatcher(base context.Context, worker *Worker) *InlineDispatcher {
	return &InlineDispatcher{worker: worker, base: base}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, job *Job) error {
	runCtx := context.WithoutCancel(ctx)
	if d.base != nil {
		runCtx = d.base
	}
	go func() {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 500 * time.Millisecond
		eb.MaxInterval = 10 * time.Second
		_, err := backoff.Retry(runCtx, func() (struct{}, error) {
			err := d.worker.Run(runCtx, job)
			if err != nil && !apperrors.HasCode(err, apperrors.CodeIngestionBusy) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}, backoff.WithBackOff(eb), backoff.WithMaxElapsedTime(time.Hour))
		if err != nil {
			logger.Error(runCtx, "inline ingestion failed", err, "job_id", job.ID)
		}
	}()
	return nil
}
