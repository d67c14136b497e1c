// Package port 应用层对模型与向量服务的依赖接口
package port

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// GenerateRequest 一次文本生成调用
type GenerateRequest struct {
	// Workflow 用于日志、指标与链路追踪的调用方标识
	Workflow string
	// Provider 为空时使用默认供应商
	Provider string
	Messages []*schema.Message
	// JSON 要求模型输出 JSON 对象
	JSON  bool
	Tools []*schema.ToolInfo
	// AllowParallelTools 仅在 Tools 非空时生效
	AllowParallelTools bool
	Temperature        *float32
}

// TextGenerator 带重试与熔断的文本生成服务
type TextGenerator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*schema.Message, error)
}

// Embedder 文本向量化服务
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatModelFactory 按供应商名取 ChatModel，空名取默认供应商
type ChatModelFactory interface {
	Get(ctx context.Context, provider string) (model.BaseChatModel, error)
}
