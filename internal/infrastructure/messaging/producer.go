package messaging

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"timeline-rag-api/pkg/metrics"
)

var tracer = otel.Tracer("messaging")

const defaultMaxLen = 10000

// Producer 向 Redis Stream 追加消息，流长度按 maxLen 近似裁剪
type Producer struct {
	client *redis.Client
	maxLen int64
}

func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Producer{client: client, maxLen: maxLen}
}

// Publish 返回 Redis 分配的条目 ID
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", string(stream)),
			attribute.String("messaging.message_type", msg.Type),
			attribute.String("tenant_id", msg.TenantID),
		))
	defer span.End()

	values, err := msg.streamValues()
	if err != nil {
		return "", fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	entryID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "xadd failed")
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}

	metrics.RedisStreamProcessed.WithLabelValues(string(stream), "published").Inc()
	span.SetAttributes(attribute.String("messaging.message_id", entryID))
	return entryID, nil
}

// PublishIngestJob 投递入库任务，消息 ID 取任务 ID
func (p *Producer) PublishIngestJob(ctx context.Context, job *IngestDocumentMessage) (string, error) {
	msg, err := NewMessage(job.JobID, TypeIngestDocument, job.TenantID, job)
	if err != nil {
		return "", err
	}
	msg.propagate(ctx)
	return p.Publish(ctx, StreamIngest, msg)
}
