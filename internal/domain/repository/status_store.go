package repository

import (
	"context"
	"time"

	"timeline-rag-api/internal/domain/entity"
)

// StatusStore 租户状态存储，过期由存储自身淘汰
type StatusStore interface {
	Report(ctx context.Context, tenantID, label string) error
	// Read 无状态时返回 nil
	Read(ctx context.Context, tenantID string) (*entity.Status, error)
	Clear(ctx context.Context, tenantID string) error
}

// TenantLocker 租户级互斥，保证同一租户的入库串行
type TenantLocker interface {
	// Acquire 获取锁；已被占用时返回 CodeIngestionBusy
	Acquire(ctx context.Context, tenantID string, ttl time.Duration) (release func(context.Context) error, err error)
}
