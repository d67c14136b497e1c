// Package milvus 事件索引、事件细节与原文分块的向量存储
package milvus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"timeline-rag-api/internal/config"
)

var tracer = otel.Tracer("milvus")

const connectTimeout = 10 * time.Second

// Client Milvus 连接与集合命名
type Client struct {
	milvus client.Client
	config *config.MilvusConfig
}

// NewClient 连接 Milvus；用户名为空时不做认证
func NewClient(ctx context.Context, cfg *config.MilvusConfig) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	mc, err := client.NewClient(ctx, client.Config{
		Address:  fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.User,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{milvus: mc, config: cfg}, nil
}

// Milvus 底层 SDK 客户端
func (c *Client) Milvus() client.Client {
	return c.milvus
}

func (c *Client) Close() error {
	return c.milvus.Close()
}

// HealthCheck 使用服务端健康状态，不健康时带上原因
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.HealthCheck")
	defer span.End()

	state, err := c.milvus.CheckHealth(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("milvus health check failed: %w", err)
	}
	if !state.IsHealthy {
		err := fmt.Errorf("milvus unhealthy: %s", strings.Join(state.Reasons, "; "))
		span.RecordError(err)
		return err
	}
	return nil
}

// CollectionName event_index 等逻辑名加上部署前缀，多套环境可共用一个实例
func (c *Client) CollectionName(name string) string {
	if c.config.CollectionPrefix != "" {
		return c.config.CollectionPrefix + "_" + name
	}
	return name
}

func (c *Client) HasCollection(ctx context.Context, name string) (bool, error) {
	ctx, span := tracer.Start(ctx, "milvus.HasCollection",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	return c.milvus.HasCollection(ctx, c.CollectionName(name))
}

// LoadCollection 同步加载，返回时集合已可检索
func (c *Client) LoadCollection(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "milvus.LoadCollection",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	return c.milvus.LoadCollection(ctx, c.CollectionName(name), false)
}
