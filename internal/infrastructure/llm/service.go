package llm

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	openaiopts "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"

	"timeline-rag-api/internal/config"
	einoobs "timeline-rag-api/internal/observability/eino"
	"timeline-rag-api/internal/workflow/node"
	"timeline-rag-api/internal/workflow/port"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/logger"
	"timeline-rag-api/pkg/metrics"
)

// jsonOnlyHint 供应商不支持 response_format 时追加的约束
const jsonOnlyHint = "只输出一个合法的 JSON 对象，不要输出任何其它内容。"

// Service 在 ChatModel 之上提供重试、熔断、JSON 模式与工具调用
type Service struct {
	factory         port.ChatModelFactory
	defaultProvider string
	retry           config.RetryConfig
	breakerCfg      config.BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

var _ port.TextGenerator = (*Service)(nil)

// NewService 创建文本生成服务
func NewService(factory port.ChatModelFactory, cfg *config.LLMConfig) *Service {
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.Initial <= 0 {
		retry.Initial = time.Second
	}
	if retry.Max < retry.Initial {
		retry.Max = retry.Initial
	}
	return &Service{
		factory:         factory,
		defaultProvider: cfg.DefaultProvider,
		retry:           retry,
		breakerCfg:      cfg.Breaker,
		breakers:        make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Generate 调用模型生成一条回复。瞬时失败按指数退避重试，
// 重试耗尽或熔断打开时返回 CodeServiceUnavailable。
func (s *Service) Generate(ctx context.Context, req *port.GenerateRequest) (*schema.Message, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, apperrors.ErrInvalidParam.WithDetail("empty generate request")
	}
	provider := req.Provider
	if provider == "" {
		provider = s.defaultProvider
	}
	ctx = einoobs.WithWorkflowProvider(ctx, req.Workflow, provider)

	cm, err := s.factory.Get(ctx, provider)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLLMProviderError, "chat model unavailable")
	}

	nativeJSON := req.JSON
	attempt := 0
	op := func() (*schema.Message, error) {
		attempt++
		msg, err := s.call(ctx, provider, cm, req, nativeJSON)
		if err != nil && nativeJSON && node.IsResponseFormatUnsupportedError(err) {
			logger.Warn(ctx, "response_format unsupported, falling back to prompt-only json",
				"provider", provider, "workflow", req.Workflow)
			nativeJSON = false
			msg, err = s.call(ctx, provider, cm, req, false)
		}
		if err == nil {
			return msg, nil
		}
		if isPermanent(ctx, err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retry.Initial
	eb.MaxInterval = s.retry.Max

	msg, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(s.retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.LLMRetries.WithLabelValues(provider).Inc()
			logger.Warn(ctx, "llm call failed, retrying",
				"provider", provider,
				"workflow", req.Workflow,
				"attempt", attempt,
				"next_in", next.String(),
				"error", err.Error(),
			)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.ErrServiceUnavailable.WithDetail("llm provider " + provider + " circuit open").WithError(err)
		}
		if node.IsNonRetryableLLMError(err) {
			return nil, apperrors.ErrLLMCallFailed.WithError(err)
		}
		return nil, apperrors.ErrServiceUnavailable.
			WithDetail("llm call failed after " + strconv.Itoa(attempt) + " attempts").
			WithError(err)
	}
	return msg, nil
}

func (s *Service) call(ctx context.Context, provider string, cm model.BaseChatModel, req *port.GenerateRequest, nativeJSON bool) (*schema.Message, error) {
	msgs := req.Messages
	opts := make([]model.Option, 0, 3)
	extra := make(map[string]any)

	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, model.WithTools(req.Tools))
		extra["parallel_tool_calls"] = req.AllowParallelTools
	}
	if req.JSON {
		if nativeJSON {
			extra["response_format"] = map[string]any{"type": "json_object"}
		} else {
			msgs = withJSONHint(msgs)
		}
	}
	if len(extra) > 0 {
		opts = append(opts, openaiopts.WithExtraFields(extra))
	}

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      req.Workflow,
		Type:      provider,
		Component: components.ComponentOfChatModel,
	})

	res, err := s.breaker(provider).Execute(func() (interface{}, error) {
		return cm.Generate(ctx, msgs, opts...)
	})
	if err != nil {
		return nil, err
	}
	msg, _ := res.(*schema.Message)
	if msg == nil {
		return nil, errors.New("llm returned empty message")
	}
	return msg, nil
}

func (s *Service) breaker(provider string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[provider]; ok {
		return cb
	}

	threshold := s.breakerCfg.ConsecutiveFailures
	if !s.breakerCfg.Enabled || threshold == 0 {
		// 关闭熔断时阈值设为最大值
		threshold = ^uint32(0)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm." + provider,
		Timeout: s.breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || node.IsNonRetryableLLMError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.LLMBreakerState.WithLabelValues(provider).Set(float64(to))
			logger.Default().Warn("llm circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	s.breakers[provider] = cb
	return cb
}

func isPermanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return node.IsNonRetryableLLMError(err)
}

func withJSONHint(msgs []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	out = append(out, schema.SystemMessage(jsonOnlyHint))
	return out
}
