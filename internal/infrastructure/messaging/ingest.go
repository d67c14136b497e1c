package messaging

import (
	"context"

	"timeline-rag-api/internal/application/ingest"
	"timeline-rag-api/internal/domain/entity"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/logger"
)

// IngestPublisher 发布入库消息，由 Producer 实现
type IngestPublisher interface {
	PublishIngestJob(ctx context.Context, job *IngestDocumentMessage) (string, error)
}

// JobDispatcher 把入库任务投递到 Redis Stream，由 ingest-worker 消费
type JobDispatcher struct {
	publisher IngestPublisher
}

var _ ingest.Dispatcher = (*JobDispatcher)(nil)

func NewJobDispatcher(publisher IngestPublisher) *JobDispatcher {
	return &JobDispatcher{publisher: publisher}
}

func (d *JobDispatcher) Dispatch(ctx context.Context, job *ingest.Job) error {
	msgID, err := d.publisher.PublishIngestJob(ctx, &IngestDocumentMessage{
		JobID:        job.ID,
		TenantID:     job.TenantID,
		DocumentName: job.DocumentName,
		Text:         job.Text,
		Source:       string(job.Source),
		SourceURL:    job.SourceURL,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeQueueError, "enqueue ingestion job")
	}
	logger.Debug(ctx, "ingestion job enqueued", "job_id", job.ID, "stream_id", msgID)
	return nil
}

// JobRunner 执行单个入库任务
type JobRunner interface {
	Run(ctx context.Context, job *ingest.Job) error
}

// JobAbandoner 把无法完成的任务记为失败
type JobAbandoner interface {
	Abandon(ctx context.Context, tenantID, jobID string, cause error) error
}

// NewIngestHandler 消费 TypeIngestDocument 消息。
// 载荷无法解析时直接确认，重投不会让它变得可解析；
// 租户正忙时延后，等锁释放后再投递。
func NewIngestHandler(runner JobRunner) MessageHandler {
	return func(ctx context.Context, msg *Message) error {
		var payload IngestDocumentMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			logger.Error(ctx, "drop malformed ingest message", err, "message_id", msg.ID)
			return nil
		}
		if payload.TenantID == "" {
			payload.TenantID = msg.TenantID
		}

		err := runner.Run(ctx, &ingest.Job{
			ID:           payload.JobID,
			TenantID:     payload.TenantID,
			DocumentName: payload.DocumentName,
			Text:         payload.Text,
			Source:       entity.SourceKind(payload.Source),
			SourceURL:    payload.SourceURL,
		})
		if apperrors.HasCode(err, apperrors.CodeIngestionBusy) {
			return Defer(err)
		}
		return err
	}
}

// NewIngestDeadLetterHandler 入库消息进入死信流时把任务记为失败
func NewIngestDeadLetterHandler(jobs JobAbandoner) DeadLetterHandler {
	return func(ctx context.Context, msg *Message, cause error) {
		var payload IngestDocumentMessage
		if err := msg.UnmarshalPayload(&payload); err != nil || payload.JobID == "" {
			return
		}
		if payload.TenantID == "" {
			payload.TenantID = msg.TenantID
		}
		if err := jobs.Abandon(ctx, payload.TenantID, payload.JobID, cause); err != nil {
			logger.Error(ctx, "mark dead-lettered job failed", err, "job_id", payload.JobID)
		}
	}
}
