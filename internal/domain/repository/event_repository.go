// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"timeline-rag-api/internal/domain/entity"
)

// EventIndexRepository 事件身份索引（按租户隔离）
type EventIndexRepository interface {
	// Count 统计租户事件数
	Count(ctx context.Context, tenantID string) (int64, error)

	// Insert 插入新事件身份
	Insert(ctx context.Context, event *entity.CanonicalEvent) error

	// Nearest 在同一时间桶内查找最近邻；桶内无事件时返回 nil
	Nearest(ctx context.Context, tenantID string, vector []float32, timeBucket string) (*entity.EventMatch, error)

	// ListTitles 列出租户全部事件标题
	ListTitles(ctx context.Context, tenantID string) ([]string, error)
}

// DetailFilter 细节行过滤条件，零值字段不参与过滤
type DetailFilter struct {
	Fields       []entity.DetailField
	Titles       []string
	TextContains string
}

// EventDetailRepository 事件细节表
type EventDetailRepository interface {
	// Append 追加细节行，不覆盖已有行
	Append(ctx context.Context, tenantID string, details []*entity.EventDetail) error

	// Search 向量检索，按相似度降序
	Search(ctx context.Context, tenantID string, vector []float32, filter DetailFilter, topK int) ([]*entity.DetailHit, error)

	// Scan 谓词扫描，按写入顺序
	Scan(ctx context.Context, tenantID string, filter DetailFilter) ([]*entity.EventDetail, error)
}
