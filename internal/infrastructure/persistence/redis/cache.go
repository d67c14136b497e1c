package redis

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var cacheTracer = otel.Tracer("redis.cache")

// Cache 读穿缓存。同一键的并发未命中只触发一次加载。
type Cache struct {
	client    *Client
	namespace string
	group     singleflight.Group
}

// NewCache namespace 为键的第二段，如 emb
func NewCache(client *Client, namespace string) *Cache {
	return &Cache{client: client, namespace: namespace}
}

// Remember 命中直接返回；否则调用 load 并写回。
// Redis 读失败与 load 失败都原样返回；写回失败只记录在 span 上。
func (c *Cache) Remember(ctx context.Context, id string, ttl time.Duration, load func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	k := key(c.namespace, id)
	ctx, span := cacheTracer.Start(ctx, "cache.Remember",
		trace.WithAttributes(attribute.String("cache.key", k)))
	defer span.End()

	val, err := c.client.getBytes(ctx, k)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if val != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return val, true, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// 加载结果被多个请求共享，不能随单个请求取消
	loadCtx := context.WithoutCancel(ctx)
	result, err, shared := c.group.Do(k, func() (interface{}, error) {
		data, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if err := c.client.setBytes(loadCtx, k, data, ttl); err != nil {
			span.RecordError(err)
		}
		return data, nil
	})
	span.SetAttributes(attribute.Bool("cache.shared", shared))
	if err != nil {
		return nil, false, err
	}
	return result.([]byte), false, nil
}
