package eino

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/embedding"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"timeline-rag-api/pkg/metrics"
)

type embeddingModelKey struct{}

// newEmbeddingCallbackHandler 记录向量化请求的批量大小与耗时
func newEmbeddingCallbackHandler() *cbtemplate.EmbeddingCallbackHandler {
	return &cbtemplate.EmbeddingCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *embedding.CallbackInput) context.Context {
			ctx = context.WithValue(ctx, startTimeKey{}, time.Now())

			modelName, n := "", 0
			if input != nil {
				n = len(input.Texts)
				if input.Config != nil {
					modelName = input.Config.Model
				}
			}
			ctx = context.WithValue(ctx, embeddingModelKey{}, modelName)
			metrics.EmbeddingTexts.WithLabelValues(modelName).Add(float64(n))

			ctx, _ = otel.Tracer("eino").Start(ctx, "embedding.embed",
				trace.WithAttributes(
					attribute.String("embedding.model", modelName),
					attribute.Int("embedding.texts", n),
				),
			)
			return ctx
		},

		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *embedding.CallbackOutput) context.Context {
			observeEmbedding(ctx)
			span := trace.SpanFromContext(ctx)
			if output != nil && output.TokenUsage != nil {
				span.SetAttributes(attribute.Int("embedding.prompt_tokens", output.TokenUsage.PromptTokens))
			}
			span.End()
			return ctx
		},

		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			observeEmbedding(ctx)
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return ctx
		},
	}
}

func observeEmbedding(ctx context.Context) {
	modelName, _ := ctx.Value(embeddingModelKey{}).(string)
	if d := elapsedSeconds(ctx); d > 0 {
		metrics.EmbeddingDuration.WithLabelValues(modelName).Observe(d)
	}
}
