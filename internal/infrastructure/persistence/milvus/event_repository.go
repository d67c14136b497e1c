package milvus

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	domain "timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
)

// EventIndexRepository 事件身份索引
type EventIndexRepository struct {
	base *Repository
}

var _ repository.EventIndexRepository = (*EventIndexRepository)(nil)

func (r *EventIndexRepository) Count(ctx context.Context, tenantID string) (int64, error) {
	rs, err := r.base.query(ctx, CollectionEventIndex, tenantID, tenantExpr(tenantID), []string{"count(*)"})
	if err != nil || rs == nil {
		return 0, err
	}
	return int64At(rs, "count(*)", 0), nil
}

func (r *EventIndexRepository) Insert(ctx context.Context, event *domain.CanonicalEvent) error {
	if len(event.Embedding) != r.base.dimension {
		return apperrors.ErrInvalidParam.WithDetail("event embedding dimension mismatch")
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return r.base.insert(ctx, CollectionEventIndex, event.TenantID,
		entity.NewColumnVarChar("id", []string{eventID(event.TenantID, event.TimeBucket, event.Title)}),
		entity.NewColumnFloatVector(vectorField, r.base.dimension, [][]float32{event.Embedding}),
		entity.NewColumnVarChar("tenant_id", []string{event.TenantID}),
		entity.NewColumnVarChar("title", []string{event.Title}),
		entity.NewColumnVarChar("time_bucket", []string{event.TimeBucket}),
		createdAtColumn(1, createdAt),
	)
}

func (r *EventIndexRepository) Nearest(ctx context.Context, tenantID string, vector []float32, timeBucket string) (*domain.EventMatch, error) {
	expr := andExpr(tenantExpr(tenantID), inExpr("time_bucket", []string{timeBucket}))
	res, err := r.base.search(ctx, CollectionEventIndex, tenantID, expr, []string{"title", "time_bucket"}, vector, 1)
	if err != nil || res == nil || res.ResultCount == 0 {
		return nil, err
	}
	return &domain.EventMatch{
		Title:      varcharAt(res.Fields, "title", 0),
		TimeBucket: varcharAt(res.Fields, "time_bucket", 0),
		Similarity: res.Scores[0],
	}, nil
}

func (r *EventIndexRepository) ListTitles(ctx context.Context, tenantID string) ([]string, error) {
	rs, err := r.base.query(ctx, CollectionEventIndex, tenantID, tenantExpr(tenantID), []string{"id", "title", "created_at"})
	if err != nil || rs == nil {
		return nil, err
	}
	type row struct {
		title string
		at    int64
	}
	rows := make([]row, resultLen(rs))
	for i := range rows {
		rows[i] = row{title: varcharAt(rs, "title", i), at: int64At(rs, "created_at", i)}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].at < rows[j].at })
	titles := make([]string, len(rows))
	for i, r := range rows {
		titles[i] = r.title
	}
	return titles, nil
}

// eventID 事件身份以 (租户, 时间桶, 标题) 区分，不同时间桶的同名事件各占一行
func eventID(tenantID, timeBucket, title string) string {
	sum := md5.Sum([]byte(tenantID + "\x00" + timeBucket + "\x00" + title))
	return hex.EncodeToString(sum[:])
}

// EventDetailRepository 事件细节表
type EventDetailRepository struct {
	base *Repository
}

var _ repository.EventDetailRepository = (*EventDetailRepository)(nil)

var detailOutputFields = []string{"id", "tenant_id", "title", "field", "text", "source_document", "created_at"}

func (r *EventDetailRepository) Append(ctx context.Context, tenantID string, details []*domain.EventDetail) error {
	if len(details) == 0 {
		return nil
	}
	n := len(details)
	ids := make([]string, n)
	vectors := make([][]float32, n)
	tenants := make([]string, n)
	titles := make([]string, n)
	fields := make([]string, n)
	texts := make([]string, n)
	sources := make([]string, n)
	for i, d := range details {
		if len(d.Embedding) != r.base.dimension {
			return apperrors.ErrInvalidParam.WithDetail("detail embedding dimension mismatch")
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		ids[i] = d.ID
		vectors[i] = d.Embedding
		tenants[i] = tenantID
		titles[i] = d.Title
		fields[i] = string(d.Field)
		texts[i] = d.Text
		sources[i] = d.SourceDocument
	}
	return r.base.insert(ctx, CollectionEventDetail, tenantID,
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector(vectorField, r.base.dimension, vectors),
		entity.NewColumnVarChar("tenant_id", tenants),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnVarChar("field", fields),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("source_document", sources),
		createdAtColumn(n, time.Now()),
	)
}

func (r *EventDetailRepository) Search(ctx context.Context, tenantID string, vector []float32, filter repository.DetailFilter, topK int) ([]*domain.DetailHit, error) {
	res, err := r.base.search(ctx, CollectionEventDetail, tenantID, detailExpr(tenantID, filter), detailOutputFields, vector, topK)
	if err != nil || res == nil {
		return nil, err
	}
	hits := make([]*domain.DetailHit, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		hits = append(hits, &domain.DetailHit{Detail: detailAt(res.Fields, i), Score: res.Scores[i]})
	}
	return hits, nil
}

func (r *EventDetailRepository) Scan(ctx context.Context, tenantID string, filter repository.DetailFilter) ([]*domain.EventDetail, error) {
	rs, err := r.base.query(ctx, CollectionEventDetail, tenantID, detailExpr(tenantID, filter), detailOutputFields)
	if err != nil || rs == nil {
		return nil, err
	}
	out := make([]*domain.EventDetail, resultLen(rs))
	for i := range out {
		out[i] = detailAt(rs, i)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func detailExpr(tenantID string, filter repository.DetailFilter) string {
	parts := []string{tenantExpr(tenantID)}
	if len(filter.Fields) > 0 {
		fields := make([]string, len(filter.Fields))
		for i, f := range filter.Fields {
			fields[i] = string(f)
		}
		parts = append(parts, inExpr("field", fields))
	}
	if len(filter.Titles) > 0 {
		parts = append(parts, inExpr("title", filter.Titles))
	}
	if filter.TextContains != "" {
		parts = append(parts, likeExpr("text", filter.TextContains))
	}
	return andExpr(parts...)
}

func detailAt(rs client.ResultSet, i int) *domain.EventDetail {
	return &domain.EventDetail{
		ID:             varcharAt(rs, "id", i),
		TenantID:       varcharAt(rs, "tenant_id", i),
		Title:          varcharAt(rs, "title", i),
		Field:          domain.DetailField(varcharAt(rs, "field", i)),
		Text:           varcharAt(rs, "text", i),
		SourceDocument: varcharAt(rs, "source_document", i),
		CreatedAt:      time.Unix(0, int64At(rs, "created_at", i)),
	}
}
