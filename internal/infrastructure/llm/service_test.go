package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline-rag-api/internal/config"
	"timeline-rag-api/internal/workflow/port"
	apperrors "timeline-rag-api/pkg/errors"
)

// scriptedModel 按调用顺序返回预设结果，超出脚本后重复最后一项
type scriptedModel struct {
	mu     sync.Mutex
	calls  int
	inputs [][]*schema.Message
	script []func(msgs []*schema.Message) (*schema.Message, error)
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step := m.script[min(m.calls, len(m.script)-1)]
	m.calls++
	m.inputs = append(m.inputs, input)
	return step(input)
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func reply(text string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) { return schema.AssistantMessage(text, nil), nil }
}

func fail(msg string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) { return nil, errors.New(msg) }
}

type staticFactory struct {
	model model.BaseChatModel
	err   error
	asked []string
}

func (f *staticFactory) Get(_ context.Context, provider string) (model.BaseChatModel, error) {
	f.asked = append(f.asked, provider)
	return f.model, f.err
}

func testConfig() *config.LLMConfig {
	return &config.LLMConfig{
		DefaultProvider: "qwen",
		Retry:           config.RetryConfig{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond},
		Breaker:         config.BreakerConfig{Enabled: true, ConsecutiveFailures: 5, OpenTimeout: time.Minute},
	}
}

func request() *port.GenerateRequest {
	return &port.GenerateRequest{
		Workflow: "test",
		Messages: []*schema.Message{schema.UserMessage("卢沟桥事变发生在哪一年？")},
	}
}

func TestGenerateRetriesTransientFailure(t *testing.T) {
	cm := &scriptedModel{script: []func([]*schema.Message) (*schema.Message, error){
		fail("status code: 503"),
		reply("1937"),
	}}
	factory := &staticFactory{model: cm}
	svc := NewService(factory, testConfig())

	msg, err := svc.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "1937", msg.Content)
	assert.Equal(t, 2, cm.calls)
	assert.Equal(t, []string{"qwen"}, factory.asked)
}

func TestGenerateFallsBackToPromptJSON(t *testing.T) {
	cm := &scriptedModel{script: []func([]*schema.Message) (*schema.Message, error){
		fail("invalid_request_error: response_format is not supported"),
		reply(`{"answer":"1937"}`),
	}}
	svc := NewService(&staticFactory{model: cm}, testConfig())

	req := request()
	req.JSON = true
	msg, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"1937"}`, msg.Content)

	require.Len(t, cm.inputs, 2)
	assert.Len(t, cm.inputs[0], 1)
	last := cm.inputs[1][len(cm.inputs[1])-1]
	assert.Equal(t, schema.System, last.Role)
	assert.Equal(t, jsonOnlyHint, last.Content)
}

func TestGenerateDoesNotRetryPermanentError(t *testing.T) {
	cm := &scriptedModel{script: []func([]*schema.Message) (*schema.Message, error){
		fail("error, status code: 401, message: invalid api key"),
	}}
	svc := NewService(&staticFactory{model: cm}, testConfig())

	_, err := svc.Generate(context.Background(), request())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLLMCallFailed))
	assert.Equal(t, 1, cm.calls)
}

func TestGenerateExhaustedRetriesIsUnavailable(t *testing.T) {
	cm := &scriptedModel{script: []func([]*schema.Message) (*schema.Message, error){
		fail("connection reset by peer"),
	}}
	svc := NewService(&staticFactory{model: cm}, testConfig())

	_, err := svc.Generate(context.Background(), request())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceUnavailable))
	assert.Equal(t, 3, cm.calls)
}

func TestGenerateBreakerOpens(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.ConsecutiveFailures = 2
	cm := &scriptedModel{script: []func([]*schema.Message) (*schema.Message, error){
		fail("connection reset by peer"),
	}}
	svc := NewService(&staticFactory{model: cm}, cfg)

	_, err := svc.Generate(context.Background(), request())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceUnavailable))
	assert.Equal(t, 2, cm.calls, "third attempt is rejected by the open breaker")

	_, err = svc.Generate(context.Background(), request())
	require.Error(t, err)
	assert.Equal(t, 2, cm.calls)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	svc := NewService(&staticFactory{model: &scriptedModel{}}, testConfig())
	_, err := svc.Generate(context.Background(), &port.GenerateRequest{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParam))

	svc = NewService(&staticFactory{err: errors.New("provider not configured")}, testConfig())
	_, err = svc.Generate(context.Background(), request())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLLMProviderError))
}

func TestGenerateHonorsCancellation(t *testing.T) {
	cm := &scriptedModel{script: []func([]*schema.Message) (*schema.Message, error){
		fail("connection reset by peer"),
	}}
	svc := NewService(&staticFactory{model: cm}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Generate(ctx, request())
	assert.ErrorIs(t, err, context.Canceled)
}
