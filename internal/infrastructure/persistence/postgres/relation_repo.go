// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
)

// RelationRepository 事件关系仓储实现
type RelationRepository struct {
	client *Client
}

var _ repository.RelationRepository = (*RelationRepository)(nil)

// NewRelationRepository 创建关系仓储
func NewRelationRepository(client *Client) *RelationRepository {
	return &RelationRepository{client: client}
}

// Exists 判断有序对是否已存在
func (r *RelationRepository) Exists(ctx context.Context, tenantID, event1, event2 string) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.Exists")
	defer span.End()

	var count int64
	err := getDB(ctx, r.client.db).
		Model(&entity.EventRelation{}).
		Where("tenant_id = ? AND event_1 = ? AND event_2 = ?", tenantID, event1, event2).
		Count(&count).Error
	if err != nil {
		span.RecordError(err)
		return false, apperrors.Wrap(err, apperrors.CodeDatabaseError, "check relation")
	}
	return count > 0, nil
}

// Create 创建关系，依赖唯一索引保证有序对不重复
func (r *RelationRepository) Create(ctx context.Context, relation *entity.EventRelation) error {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.Create")
	defer span.End()

	res := getDB(ctx, r.client.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(relation)
	if res.Error != nil {
		span.RecordError(res.Error)
		return apperrors.Wrap(res.Error, apperrors.CodeDatabaseError, "create relation")
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrConflict.WithDetail(fmt.Sprintf("relation %s -> %s exists", relation.Event1, relation.Event2))
	}
	return nil
}

// ListFrom 获取以 event1 为起点的关系，按创建顺序
func (r *RelationRepository) ListFrom(ctx context.Context, tenantID, event1 string) ([]*entity.EventRelation, error) {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.ListFrom")
	defer span.End()

	var relations []*entity.EventRelation
	err := getDB(ctx, r.client.db).
		Where("tenant_id = ? AND event_1 = ?", tenantID, event1).
		Order("id ASC").
		Find(&relations).Error
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "list relations")
	}
	return relations, nil
}
