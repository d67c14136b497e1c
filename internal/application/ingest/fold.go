package ingest

import (
	"context"
	"strings"

	"timeline-rag-api/internal/workflow/port"
	"timeline-rag-api/internal/workflow/prompt"
	"timeline-rag-api/pkg/logger"
)

// SummaryFallback 单个分块总结失败时使用的摘要，折叠继续以它为前文
const SummaryFallback = "无当前段落内容总结"

// SummarizeStep 由前一段摘要和当前分块生成当前分块的摘要
type SummarizeStep func(ctx context.Context, prev, chunk string) (string, error)

// FoldSummaries 顺序折叠分块：summary[i] 只依赖 summary[i-1] 与 chunk[i]，
// summary[0] 以 seed 为前文。步骤失败时以 SummaryFallback 代替；context 取消时中止。
func FoldSummaries(ctx context.Context, chunks []string, seed string, step SummarizeStep) ([]string, error) {
	summaries := make([]string, 0, len(chunks))
	acc := seed
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := step(ctx, acc, chunk)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn(ctx, "rolling summary failed, using fallback", "chunk", i, "error", err.Error())
			s = SummaryFallback
		}
		s = strings.TrimSpace(s)
		if s == "" {
			s = SummaryFallback
		}
		summaries = append(summaries, s)
		acc = s
	}
	return summaries, nil
}

// llmSummarizeStep 基于文本生成服务的折叠步骤
func llmSummarizeStep(gen port.TextGenerator, prompts *prompt.Registry) SummarizeStep {
	return func(ctx context.Context, prev, chunk string) (string, error) {
		msgs, err := prompts.Render(ctx, prompt.PromptRollingSummaryV1, map[string]any{
			"context": prev,
			"chunk":   chunk,
		})
		if err != nil {
			return "", err
		}
		out, err := gen.Generate(ctx, &port.GenerateRequest{Workflow: workflowRollingSummary, Messages: msgs})
		if err != nil {
			return "", err
		}
		return out.Content, nil
	}
}
