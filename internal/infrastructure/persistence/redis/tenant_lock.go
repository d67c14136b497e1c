package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
)

// 仅持有者可释放
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TenantLocker 基于 SET NX PX 的分布式租户锁
type TenantLocker struct {
	client *Client
}

var _ repository.TenantLocker = (*TenantLocker)(nil)

func NewTenantLocker(client *Client) *TenantLocker {
	return &TenantLocker{client: client}
}

func (l *TenantLocker) Acquire(ctx context.Context, tenantID string, ttl time.Duration) (func(context.Context) error, error) {
	ctx, span := tracer.Start(ctx, "lock.Acquire")
	defer span.End()

	key := lockKey(tenantID)
	token := uuid.NewString()
	ok, err := l.client.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeCacheError, "acquire tenant lock")
	}
	if !ok {
		return nil, apperrors.ErrIngestionBusy.WithDetail(tenantID)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Err(); err != nil && !IsNil(err) {
			return apperrors.Wrap(err, apperrors.CodeCacheError, "release tenant lock")
		}
		return nil
	}, nil
}

func lockKey(tenantID string) string {
	return key("lock", "ingest", tenantID)
}
