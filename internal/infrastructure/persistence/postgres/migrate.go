package postgres

import (
	"context"
	"fmt"

	"timeline-rag-api/internal/domain/entity"
)

// AutoMigrate 创建或更新关系表与任务表
func (c *Client) AutoMigrate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.AutoMigrate")
	defer span.End()

	if err := c.db.WithContext(ctx).AutoMigrate(&entity.EventRelation{}, &entity.IngestionJob{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
