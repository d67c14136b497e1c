package ingest

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	"timeline-rag-api/internal/workflow/port"
	apperrors "timeline-rag-api/pkg/errors"
)

// DefaultSimilarityThreshold 同一时间桶内判定为同一事件的余弦相似度下限（严格大于）
const DefaultSimilarityThreshold = 0.8

// Resolution 身份解析结果
type Resolution struct {
	// Title 规范标题：已存在事件的标题，或新事件自身的标题
	Title string
	New   bool
	// Similarity 最近邻相似度；无近邻时为 0
	Similarity float32
}

// Resolver 事件身份解析：同一时间桶内的单一最近邻判定，单遍、不回溯合并。
// 先查后写没有加锁，同一租户的入库必须串行。
type Resolver struct {
	embedder  port.Embedder
	events    repository.EventIndexRepository
	threshold float32
	now       func() time.Time
}

func NewResolver(embedder port.Embedder, events repository.EventIndexRepository, threshold float64) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Resolver{embedder: embedder, events: events, threshold: float32(threshold), now: time.Now}
}

// Resolve 解析标题；嵌入或索引失败时返回 CodeIdentityResolution
func (r *Resolver) Resolve(ctx context.Context, tenantID, title, timeBucket string) (*Resolution, error) {
	ctx, span := otel.Tracer("ingest").Start(ctx, "ingest.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("event.title", title), attribute.String("event.time_bucket", timeBucket))

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.ErrIdentityResolution.WithDetail("empty title")
	}

	vec, err := r.embedder.Embed(ctx, title)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.ErrIdentityResolution.WithError(err)
	}

	n, err := r.events.Count(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.ErrIdentityResolution.WithError(err)
	}

	var match *entity.EventMatch
	if n > 0 {
		match, err = r.events.Nearest(ctx, tenantID, vec, timeBucket)
		if err != nil {
			span.RecordError(err)
			return nil, apperrors.ErrIdentityResolution.WithError(err)
		}
	}
	if match != nil && match.Similarity > r.threshold {
		span.SetAttributes(attribute.Bool("event.new", false), attribute.String("event.canonical", match.Title))
		return &Resolution{Title: match.Title, Similarity: match.Similarity}, nil
	}

	err = r.events.Insert(ctx, &entity.CanonicalEvent{
		TenantID:   tenantID,
		Title:      title,
		TimeBucket: timeBucket,
		Embedding:  vec,
		CreatedAt:  r.now(),
	})
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.ErrIdentityResolution.WithError(err)
	}

	res := &Resolution{Title: title, New: true}
	if match != nil {
		res.Similarity = match.Similarity
	}
	span.SetAttributes(attribute.Bool("event.new", true))
	return res, nil
}
