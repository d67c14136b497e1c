// Package redis 租户状态、入库锁、向量缓存与限流的 Redis 实现
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"timeline-rag-api/internal/config"
)

var tracer = otel.Tracer("redis")

// keyPrefix 所有键的命名空间，与其他应用共用实例时互不干扰
const keyPrefix = "trag"

// Client Redis 客户端
type Client struct {
	rdb *redis.Client
}

// NewClient 创建客户端并 Ping 一次
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis 包装已有的 go-redis 客户端
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Redis 底层客户端，消息队列直接使用
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "redis.HealthCheck")
	defer span.End()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	stats := c.rdb.PoolStats()
	span.SetAttributes(
		attribute.Int64("redis.pool.total", int64(stats.TotalConns)),
		attribute.Int64("redis.pool.idle", int64(stats.IdleConns)),
	)
	return nil
}

// getBytes 键不存在时返回 (nil, nil)
func (c *Client) getBytes(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "redis.Get",
		trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	val, err := c.rdb.Get(ctx, key).Bytes()
	if IsNil(err) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return val, nil
}

func (c *Client) setBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "redis.Set",
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.Int64("redis.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (c *Client) del(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "redis.Del",
		trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// IsNil 是否为键不存在
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

func key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}
