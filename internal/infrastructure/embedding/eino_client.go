// Package embedding 提供 Embedding 服务客户端
package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"

	"timeline-rag-api/internal/config"
	"timeline-rag-api/internal/workflow/port"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/metrics"
)

// NewEinoEmbedder 创建基于 Eino 的 Embedder
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}

	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}

	return embedder, nil
}

// Client 将 Eino Embedder 适配为 float32 向量接口
type Client struct {
	embedder  embedding.Embedder
	dimension int
}

var _ port.Embedder = (*Client)(nil)

// NewClient dimension 为 0 时不校验维度
func NewClient(embedder embedding.Embedder, dimension int) *Client {
	return &Client{embedder: embedder, dimension: dimension}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "embed",
		Type:      "openai",
		Component: components.ComponentOfEmbedding,
	})
	raw, err := c.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		metrics.EmbeddingCallTotal.WithLabelValues("error").Inc()
		return nil, apperrors.ErrEmbeddingFailed.WithError(err)
	}
	if len(raw) != len(texts) {
		metrics.EmbeddingCallTotal.WithLabelValues("error").Inc()
		return nil, apperrors.ErrEmbeddingFailed.WithDetail(
			fmt.Sprintf("embedding count mismatch: got %d, want %d", len(raw), len(texts)))
	}

	out := make([][]float32, len(raw))
	for i, v := range raw {
		if c.dimension > 0 && len(v) != c.dimension {
			metrics.EmbeddingCallTotal.WithLabelValues("error").Inc()
			return nil, apperrors.ErrEmbeddingFailed.WithDetail(
				fmt.Sprintf("embedding dimension mismatch: got %d, want %d", len(v), c.dimension))
		}
		out[i] = toFloat32(v)
	}
	metrics.EmbeddingCallTotal.WithLabelValues("ok").Inc()
	return out, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
