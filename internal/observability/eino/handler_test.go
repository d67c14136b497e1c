package eino

import (
	"context"
	"errors"
	"testing"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"timeline-rag-api/pkg/logger"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func attrs(kvs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestChatModelHandlerRecordsSpan(t *testing.T) {
	rec := recordSpans(t)
	h := newChatModelCallbackHandler()

	ctx := WithWorkflowProvider(context.Background(), "ingest.extract", "qwen")
	ctx = logger.WithContext(ctx, logger.TenantIDKey, "t1")
	info := &einocb.RunInfo{Name: "ingest.extract", Type: "qwen"}

	ctx = h.OnStart(ctx, info, &model.CallbackInput{Config: &model.Config{Model: "qwen-plus"}})
	h.OnEnd(ctx, info, &model.CallbackOutput{
		Config:     &model.Config{Model: "qwen-plus"},
		TokenUsage: &model.TokenUsage{PromptTokens: 120, CompletionTokens: 30},
	})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "llm.generate", spans[0].Name())
	got := attrs(spans[0].Attributes())
	assert.Equal(t, "ingest.extract", got["eino.workflow"])
	assert.Equal(t, "qwen", got["llm.provider"])
	assert.Equal(t, "qwen-plus", got["llm.model"])
	assert.Equal(t, "t1", got["tenant_id"])
	assert.Equal(t, "120", got["llm.prompt_tokens"])
}

func TestToolHandlerRecordsError(t *testing.T) {
	rec := recordSpans(t)
	h := newToolCallbackHandler()
	info := &einocb.RunInfo{Name: "search_event_details"}

	ctx := h.OnStart(context.Background(), info, nil)
	h.OnError(ctx, info, errors.New("milvus unavailable"))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.invoke", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "search_event_details", attrs(spans[0].Attributes())["tool.name"])
}

func TestEmbeddingHandlerRecordsBatch(t *testing.T) {
	rec := recordSpans(t)
	h := newEmbeddingCallbackHandler()

	ctx := h.OnStart(context.Background(), nil, &embedding.CallbackInput{
		Texts:  []string{"卢沟桥事变", "淞沪会战"},
		Config: &embedding.Config{Model: "text-embedding-v3"},
	})
	h.OnEnd(ctx, nil, &embedding.CallbackOutput{Embeddings: [][]float64{{0.1}, {0.2}}})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	got := attrs(spans[0].Attributes())
	assert.Equal(t, "embedding.embed", spans[0].Name())
	assert.Equal(t, "2", got["embedding.texts"])
	assert.Equal(t, "text-embedding-v3", got["embedding.model"])
}

func TestContextDefaults(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "unknown", WorkflowFromContext(ctx))
	assert.Equal(t, "unknown", ProviderFromContext(WithProvider(ctx, "  ")))
	assert.Equal(t, "agent.reason", WorkflowFromContext(WithWorkflow(ctx, " agent.reason ")))
}
