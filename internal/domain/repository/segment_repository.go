// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"timeline-rag-api/internal/domain/entity"
)

// SegmentRepository 原文分块表
type SegmentRepository interface {
	// Append 追加分块（按文档顺序）
	Append(ctx context.Context, tenantID string, segments []*entity.ArticleSegment) error

	// Search 按分块向量检索
	Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]*entity.SegmentHit, error)

	// List 按写入顺序列出租户全部分块
	List(ctx context.Context, tenantID string) ([]*entity.ArticleSegment, error)

	// ListByDocument 按文档顺序列出分块
	ListByDocument(ctx context.Context, tenantID, docTitle string) ([]*entity.ArticleSegment, error)
}
