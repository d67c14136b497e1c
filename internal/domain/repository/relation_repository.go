// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"timeline-rag-api/internal/domain/entity"
)

// RelationRepository 事件关系仓储接口
type RelationRepository interface {
	// Exists 判断有序对 (event1, event2) 是否已存在
	Exists(ctx context.Context, tenantID, event1, event2 string) (bool, error)

	// Create 创建关系；有序对重复时返回 CodeConflict
	Create(ctx context.Context, relation *entity.EventRelation) error

	// ListFrom 获取以 event1 为起点的关系
	ListFrom(ctx context.Context, tenantID, event1 string) ([]*entity.EventRelation, error)
}
