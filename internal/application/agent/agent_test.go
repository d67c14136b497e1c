package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"timeline-rag-api/internal/application/retrieval"
	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/infrastructure/persistence/memory"
	"timeline-rag-api/internal/workflow/port"
	"timeline-rag-api/internal/workflow/prompt"
)

const tenant = "tenant-a"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func tagged(queries ...string) string {
	var sb strings.Builder
	sb.WriteString("我需要先查一些信息。\n")
	for _, q := range queries {
		sb.WriteString(prompt.BeginSearchQuery + q + prompt.EndSearchQuery + "\n")
	}
	return sb.String()
}

// scriptedModel 按 workflow 返回预设回复并记录请求
type scriptedModel struct {
	mu       sync.Mutex
	requests map[string][]*port.GenerateRequest
	replies  map[string]func(n int, req *port.GenerateRequest) (*schema.Message, error)
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{
		requests: map[string][]*port.GenerateRequest{},
		replies:  map[string]func(int, *port.GenerateRequest) (*schema.Message, error){},
	}
}

func (m *scriptedModel) Generate(_ context.Context, req *port.GenerateRequest) (*schema.Message, error) {
	m.mu.Lock()
	m.requests[req.Workflow] = append(m.requests[req.Workflow], req)
	n := len(m.requests[req.Workflow])
	fn := m.replies[req.Workflow]
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unexpected workflow %q", req.Workflow)
	}
	return fn(n, req)
}

func (m *scriptedModel) calls(workflow string) []*port.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[workflow]
}

func userText(req *port.GenerateRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == schema.User {
			return req.Messages[i].Content
		}
	}
	return ""
}

// echoAnswerer 回答 "答:" + 问题，可按问题延迟
type echoAnswerer struct {
	mu     sync.Mutex
	asked  []string
	delays map[string]time.Duration
}

func (e *echoAnswerer) Answer(_ context.Context, _, q string) string {
	if d := e.delays[q]; d > 0 {
		time.Sleep(d)
	}
	e.mu.Lock()
	e.asked = append(e.asked, q)
	e.mu.Unlock()
	return "答:" + q
}

func TestExtractSubQueries(t *testing.T) {
	got := ExtractSubQueries("先查 " + prompt.BeginSearchQuery + "卢沟桥事变" + prompt.EndSearchQuery +
		"\n再查\n" + prompt.BeginSearchQuery + "1931年到\n1937年" + prompt.EndSearchQuery +
		prompt.BeginSearchQuery + "卢沟桥事变" + prompt.EndSearchQuery)
	want := []string{"卢沟桥事变", "1931年到\n1937年", "卢沟桥事变"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sub-queries mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, ExtractSubQueries("没有标记的最终回答"))
}

func TestReasonerAnswersAfterTwoIterations(t *testing.T) {
	ctx := context.Background()
	model := newScriptedModel()
	model.replies[workflowReasoning] = func(n int, _ *port.GenerateRequest) (*schema.Message, error) {
		if n == 1 {
			return schema.AssistantMessage(tagged("九一八事变", "卢沟桥事变"), nil), nil
		}
		return schema.AssistantMessage("两次事变相隔六年。", nil), nil
	}
	sub := &echoAnswerer{delays: map[string]time.Duration{"九一八事变": 30 * time.Millisecond}}
	status := memory.NewStatusStore(0)
	r := NewReasoner(model, sub, prompt.NewRegistry(), status, OptionsFromConfig(nil))

	ans, err := r.Ask(ctx, tenant, "卢沟桥事变为什么在九一八事变六年后才爆发", 0)
	require.NoError(t, err)
	assert.Equal(t, &Answer{Text: "两次事变相隔六年。", State: StateAnswered, Iterations: 2}, ans)
	assert.ElementsMatch(t, []string{"九一八事变", "卢沟桥事变"}, sub.asked)

	calls := model.calls(workflowReasoning)
	require.Len(t, calls, 2)
	first := userText(calls[0])
	assert.Contains(t, first, "当前是第1步")
	assert.NotContains(t, first, "在之前的步骤中")

	second := userText(calls[1])
	assert.Contains(t, second, "当前是第2步")
	assert.Contains(t, second, "在之前的步骤中，你做了下面这些是并获得了信息：\n"+tagged("九一八事变", "卢沟桥事变")+
		"问题：九一八事变\n的答案为：答:九一八事变\n\n问题：卢沟桥事变\n的答案为：答:卢沟桥事变\n\n")

	st, err := status.Read(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDone, st.Label)
}

func TestReasonerBudgetExhausted(t *testing.T) {
	model := newScriptedModel()
	model.replies[workflowReasoning] = func(n int, _ *port.GenerateRequest) (*schema.Message, error) {
		return schema.AssistantMessage(tagged(fmt.Sprintf("子问题%d", n)), nil), nil
	}
	sub := &echoAnswerer{}
	r := NewReasoner(model, sub, prompt.NewRegistry(), nil, OptionsFromConfig(nil))

	ans, err := r.Ask(context.Background(), tenant, "问题", 3)
	require.NoError(t, err)
	assert.Equal(t, StateBudgetExhausted, ans.State)
	assert.Equal(t, 3, ans.Iterations)
	assert.Equal(t, tagged("子问题3"), ans.Text)
	assert.Len(t, model.calls(workflowReasoning), 3)
	assert.Equal(t, []string{"子问题1", "子问题2"}, sub.asked)
}

func TestReasonerGenerationFailure(t *testing.T) {
	ctx := context.Background()
	model := newScriptedModel()
	model.replies[workflowReasoning] = func(int, *port.GenerateRequest) (*schema.Message, error) {
		return nil, errors.New("provider unavailable")
	}
	status := memory.NewStatusStore(0)
	r := NewReasoner(model, &echoAnswerer{}, prompt.NewRegistry(), status, OptionsFromConfig(nil))

	ans, err := r.Ask(ctx, tenant, "问题", 0)
	require.NoError(t, err)
	assert.Equal(t, FailureAnswer, ans.Text)
	assert.Equal(t, StateFailed, ans.State)

	st, err := status.Read(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, st.Terminal())
}

func TestReasonerRejectsEmptyQuestion(t *testing.T) {
	r := NewReasoner(newScriptedModel(), &echoAnswerer{}, prompt.NewRegistry(), nil, OptionsFromConfig(nil))
	_, err := r.Ask(context.Background(), tenant, "  ", 0)
	assert.Error(t, err)
}

func TestFanOutPreservesOrder(t *testing.T) {
	sub := &echoAnswerer{delays: map[string]time.Duration{"a": 40 * time.Millisecond, "b": 20 * time.Millisecond}}
	r := NewReasoner(newScriptedModel(), sub, prompt.NewRegistry(), nil, Options{MaxAttempts: 3, FanOutLimit: 2})

	got := r.fanOut(context.Background(), tenant, []string{"a", "b", "c", "a"})
	assert.Equal(t, []string{"答:a", "答:b", "答:c", "答:a"}, got)
}

func newSubAgentFixture(t *testing.T, model *scriptedModel) *SubAgent {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	require.NoError(t, repos.Details.Append(context.Background(), tenant, []*entity.EventDetail{
		{Title: "卢沟桥事变", Field: entity.FieldSummary, Text: "日军进攻宛平", Embedding: []float32{0, 1, 0}},
		{Title: "卢沟桥事变", Field: entity.FieldTime, Text: "1937年7月7日", Embedding: []float32{0, 1, 0}},
		{Title: "九一八事变", Field: entity.FieldTime, Text: "1931年9月18日", Embedding: []float32{1, 0, 0}},
	}))
	engine := retrieval.NewEngine(staticEmbedder{}, repos, retrieval.BigramTokenizer{}, retrieval.OptionsFromConfig(nil))
	return NewSubAgent(model, retrieval.NewTools(engine), prompt.NewRegistry(), "")
}

type staticEmbedder struct{}

func (staticEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0, 1, 0}, nil
}

func (staticEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 1, 0}
	}
	return out, nil
}

func TestSubAgentRunsSelectedTool(t *testing.T) {
	model := newScriptedModel()
	model.replies[workflowToolSelect] = func(int, *port.GenerateRequest) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{
			{ID: "call_1", Function: schema.FunctionCall{Name: "search_by_time", Arguments: `{"time_list": ["1937"]}`}},
			{ID: "call_2", Function: schema.FunctionCall{Name: "search_author_view", Arguments: `{"event_list": ["卢沟桥事变"]}`}},
		}), nil
	}
	model.replies[workflowToolAnswer] = func(_ int, req *port.GenerateRequest) (*schema.Message, error) {
		last := req.Messages[len(req.Messages)-1]
		return schema.AssistantMessage("根据检索："+last.Content, nil), nil
	}
	a := newSubAgentFixture(t, model)

	got := a.Answer(context.Background(), tenant, "1937年发生了什么")
	assert.Equal(t, "根据检索：**事件总结：**\n   日军进攻宛平\n\n**事件时间：**\n   1937年7月7日", got)

	sel := model.calls(workflowToolSelect)
	require.Len(t, sel, 1)
	assert.False(t, sel[0].AllowParallelTools)
	assert.Len(t, sel[0].Tools, 4)

	ans := model.calls(workflowToolAnswer)
	require.Len(t, ans, 1)
	msgs := ans[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, schema.Assistant, msgs[1].Role)
	assert.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, schema.Tool, msgs[2].Role)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
}

func TestSubAgentAnswersDirectlyWithoutTool(t *testing.T) {
	model := newScriptedModel()
	model.replies[workflowToolSelect] = func(int, *port.GenerateRequest) (*schema.Message, error) {
		return schema.AssistantMessage("无需检索", nil), nil
	}
	a := newSubAgentFixture(t, model)

	assert.Equal(t, "无需检索", a.Answer(context.Background(), tenant, "你好"))
	assert.Empty(t, model.calls(workflowToolAnswer))
}

func TestSubAgentReportsErrorsAsText(t *testing.T) {
	model := newScriptedModel()
	model.replies[workflowToolSelect] = func(int, *port.GenerateRequest) (*schema.Message, error) {
		return nil, errors.New("rate limited")
	}
	a := newSubAgentFixture(t, model)

	got := a.Answer(context.Background(), tenant, "问题")
	assert.Equal(t, SubAgentErrorPrefix+"rate limited", got)
}
