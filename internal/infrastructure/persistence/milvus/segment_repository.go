package milvus

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	domain "timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
)

// SegmentRepository 原文分块表
type SegmentRepository struct {
	base *Repository
}

var _ repository.SegmentRepository = (*SegmentRepository)(nil)

var segmentOutputFields = []string{"id", "tenant_id", "segment_id", "doc_title", "seq", "chunk_text", "rolling_summary", "created_at"}

func (r *SegmentRepository) Append(ctx context.Context, tenantID string, segments []*domain.ArticleSegment) error {
	if len(segments) == 0 {
		return nil
	}
	n := len(segments)
	ids := make([]string, n)
	vectors := make([][]float32, n)
	tenants := make([]string, n)
	segmentIDs := make([]string, n)
	docs := make([]string, n)
	seqs := make([]int64, n)
	chunks := make([]string, n)
	summaries := make([]string, n)
	for i, seg := range segments {
		if len(seg.Embedding) != r.base.dimension {
			return apperrors.ErrInvalidParam.WithDetail("segment embedding dimension mismatch")
		}
		// 分块 ID 由内容前缀决定，不同租户或重复入库可能相同，主键单独生成
		ids[i] = uuid.NewString()
		vectors[i] = seg.Embedding
		tenants[i] = tenantID
		segmentIDs[i] = seg.ID
		docs[i] = seg.DocTitle
		seqs[i] = int64(seg.Seq)
		chunks[i] = seg.ChunkText
		summaries[i] = seg.RollingSummary
	}
	return r.base.insert(ctx, CollectionArticleSegment, tenantID,
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector(vectorField, r.base.dimension, vectors),
		entity.NewColumnVarChar("tenant_id", tenants),
		entity.NewColumnVarChar("segment_id", segmentIDs),
		entity.NewColumnVarChar("doc_title", docs),
		entity.NewColumnInt64("seq", seqs),
		entity.NewColumnVarChar("chunk_text", chunks),
		entity.NewColumnVarChar("rolling_summary", summaries),
		createdAtColumn(n, time.Now()),
	)
}

func (r *SegmentRepository) Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]*domain.SegmentHit, error) {
	res, err := r.base.search(ctx, CollectionArticleSegment, tenantID, tenantExpr(tenantID), segmentOutputFields, vector, topK)
	if err != nil || res == nil {
		return nil, err
	}
	hits := make([]*domain.SegmentHit, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		hits = append(hits, &domain.SegmentHit{Segment: segmentAt(res.Fields, i), Score: res.Scores[i]})
	}
	return hits, nil
}

func (r *SegmentRepository) List(ctx context.Context, tenantID string) ([]*domain.ArticleSegment, error) {
	return r.scan(ctx, tenantID, tenantExpr(tenantID))
}

func (r *SegmentRepository) ListByDocument(ctx context.Context, tenantID, docTitle string) ([]*domain.ArticleSegment, error) {
	segs, err := r.scan(ctx, tenantID, andExpr(tenantExpr(tenantID), inExpr("doc_title", []string{docTitle})))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Seq < segs[j].Seq })
	return segs, nil
}

func (r *SegmentRepository) scan(ctx context.Context, tenantID, expr string) ([]*domain.ArticleSegment, error) {
	rs, err := r.base.query(ctx, CollectionArticleSegment, tenantID, expr, segmentOutputFields)
	if err != nil || rs == nil {
		return nil, err
	}
	out := make([]*domain.ArticleSegment, resultLen(rs))
	for i := range out {
		out[i] = segmentAt(rs, i)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func segmentAt(rs client.ResultSet, i int) *domain.ArticleSegment {
	return &domain.ArticleSegment{
		ID:             varcharAt(rs, "segment_id", i),
		TenantID:       varcharAt(rs, "tenant_id", i),
		DocTitle:       varcharAt(rs, "doc_title", i),
		Seq:            int(int64At(rs, "seq", i)),
		ChunkText:      varcharAt(rs, "chunk_text", i),
		RollingSummary: varcharAt(rs, "rolling_summary", i),
		CreatedAt:      time.Unix(0, int64At(rs, "created_at", i)),
	}
}
