package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"timeline-rag-api/internal/workflow/port"
	"timeline-rag-api/pkg/logger"
	"timeline-rag-api/pkg/metrics"
)

// BlobCache 读穿缓存，由 redis.Cache 实现；hit 表示未调用 load
type BlobCache interface {
	Remember(ctx context.Context, id string, ttl time.Duration, load func(ctx context.Context) ([]byte, error)) (val []byte, hit bool, err error)
}

// CachedEmbedder 按 模型+文本 缓存向量，同一文本并发请求只调用一次上游
type CachedEmbedder struct {
	next  port.Embedder
	cache BlobCache
	model string
	ttl   time.Duration
}

var _ port.Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(next port.Embedder, cache BlobCache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model, ttl: ttl}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var upstreamErr error
	raw, hit, err := c.cache.Remember(ctx, c.key(text), c.ttl, func(ctx context.Context) ([]byte, error) {
		vec, err := c.next.Embed(ctx, text)
		if err != nil {
			upstreamErr = err
			return nil, err
		}
		return json.Marshal(vec)
	})
	if err != nil {
		if upstreamErr != nil {
			return nil, upstreamErr
		}
		// 缓存不可用时直接调用上游
		logger.Warn(ctx, "embedding cache unavailable", "error", err.Error())
		return c.next.Embed(ctx, text)
	}
	if hit {
		metrics.EmbeddingCallTotal.WithLabelValues("cache_hit").Inc()
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, fmt.Errorf("decode cached embedding: %w", err)
	}
	return vec, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
