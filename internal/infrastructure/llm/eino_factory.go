package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"timeline-rag-api/internal/config"
	"timeline-rag-api/internal/workflow/port"
)

// EinoFactory 按供应商名惰性创建 OpenAI 兼容的 ChatModel，创建后复用
type EinoFactory struct {
	cfg *config.LLMConfig

	mu     sync.Mutex
	models map[string]model.BaseChatModel
}

var _ port.ChatModelFactory = (*EinoFactory)(nil)

func NewEinoFactory(cfg *config.Config) *EinoFactory {
	return &EinoFactory{cfg: &cfg.LLM, models: make(map[string]model.BaseChatModel)}
}

func (f *EinoFactory) Get(ctx context.Context, provider string) (model.BaseChatModel, error) {
	if provider == "" {
		provider = f.cfg.DefaultProvider
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.models[provider]; ok {
		return m, nil
	}

	pc, ok := f.cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("llm provider %q is not configured", provider)
	}
	if pc.APIKey == "" {
		return nil, fmt.Errorf("llm provider %q has no api_key", provider)
	}
	m, err := openai.NewChatModel(ctx, chatModelConfig(pc))
	if err != nil {
		return nil, fmt.Errorf("create chat model %q: %w", provider, err)
	}
	f.models[provider] = m
	return m, nil
}

func chatModelConfig(pc config.ProviderConfig) *openai.ChatModelConfig {
	temperature := float32(pc.Temperature)
	c := &openai.ChatModelConfig{
		APIKey:      pc.APIKey,
		BaseURL:     pc.BaseURL,
		Model:       pc.Model,
		Temperature: &temperature,
		Timeout:     pc.Timeout,
	}
	if pc.MaxTokens > 0 {
		maxTokens := pc.MaxTokens
		c.MaxTokens = &maxTokens
	}
	return c
}
