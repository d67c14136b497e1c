package agent

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"timeline-rag-api/internal/config"
	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	"timeline-rag-api/internal/workflow/port"
	"timeline-rag-api/internal/workflow/prompt"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/logger"
	"timeline-rag-api/pkg/metrics"
)

// FailureAnswer 生成失败时返回给用户的文本
const FailureAnswer = "抱歉，查询过程中出现错误。"

const historyHeader = "\n\n在之前的步骤中，你做了下面这些是并获得了信息：\n"

var subQueryPattern = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(prompt.BeginSearchQuery) + `(.*?)` + regexp.QuoteMeta(prompt.EndSearchQuery))

// State 推理终态
type State string

const (
	StateAnswered        State = "answered"
	StateBudgetExhausted State = "budget_exhausted"
	StateFailed          State = "failed"
)

// Answer 推理结果。预算耗尽时 Text 是最后一次原始输出，可能仍含检索标记。
type Answer struct {
	Text       string `json:"answer"`
	State      State  `json:"state"`
	Iterations int    `json:"iterations"`
}

// SubQueryAnswerer 回答单个子问题
type SubQueryAnswerer interface {
	Answer(ctx context.Context, tenantID, question string) string
}

// Options 推理参数
type Options struct {
	MaxAttempts int
	FanOutLimit int
	Provider    string
}

func OptionsFromConfig(cfg *config.AgentConfig) Options {
	opts := Options{MaxAttempts: 3, FanOutLimit: 8}
	if cfg == nil {
		return opts
	}
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.FanOutLimit > 0 {
		opts.FanOutLimit = cfg.FanOutLimit
	}
	opts.Provider = cfg.Provider
	return opts
}

// Reasoner 多步推理 Agent：每步生成一次，抽取子问题并发交给子 Agent，
// 问答记录累积进下一步的提示词，直到不再产生子问题或达到步数上限。
type Reasoner struct {
	gen     port.TextGenerator
	sub     SubQueryAnswerer
	prompts *prompt.Registry
	status  repository.StatusStore
	opts    Options
}

func NewReasoner(gen port.TextGenerator, sub SubQueryAnswerer, prompts *prompt.Registry, status repository.StatusStore, opts Options) *Reasoner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Reasoner{gen: gen, sub: sub, prompts: prompts, status: status, opts: opts}
}

// MaxAttempts 默认步数上限
func (r *Reasoner) MaxAttempts() int { return r.opts.MaxAttempts }

// Ask 回答问题；maxAttempts <= 0 时使用默认值。只有参数错误会返回 error。
func (r *Reasoner) Ask(ctx context.Context, tenantID, question string, maxAttempts int) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("question is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = r.opts.MaxAttempts
	}

	ctx, span := otel.Tracer("agent").Start(ctx, "agent.Ask")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID), attribute.Int("agent.max_attempts", maxAttempts))

	ans := r.run(ctx, tenantID, question, maxAttempts)

	span.SetAttributes(attribute.String("agent.state", string(ans.State)), attribute.Int("agent.iterations", ans.Iterations))
	metrics.AgentIterations.Observe(float64(ans.Iterations))
	metrics.AgentTerminalState.WithLabelValues(string(ans.State)).Inc()
	if ans.State == StateFailed {
		r.report(ctx, tenantID, entity.StatusError(FailureAnswer))
	} else {
		r.report(ctx, tenantID, entity.StatusDone)
	}
	return ans, nil
}

func (r *Reasoner) run(ctx context.Context, tenantID, question string, maxAttempts int) *Answer {
	var transcript strings.Builder
	var raw string

	for step := 1; step <= maxAttempts; step++ {
		r.report(ctx, tenantID, entity.StatusThinking(step))

		out, err := r.generate(ctx, question, step, maxAttempts, transcript.String())
		if err != nil {
			logger.Error(ctx, "reasoning step failed", err, "step", step)
			return &Answer{Text: FailureAnswer, State: StateFailed, Iterations: step}
		}
		raw = out
		transcript.WriteString(raw)

		queries := ExtractSubQueries(raw)
		if len(queries) == 0 {
			return &Answer{Text: raw, State: StateAnswered, Iterations: step}
		}
		if step == maxAttempts {
			break
		}

		logger.Debug(ctx, "sub-queries extracted", "step", step, "count", len(queries))
		answers := r.fanOut(ctx, tenantID, queries)
		for i, q := range queries {
			transcript.WriteString("问题：")
			transcript.WriteString(q)
			transcript.WriteString("\n的答案为：")
			transcript.WriteString(answers[i])
			transcript.WriteString("\n\n")
		}
	}

	logger.Info(ctx, "reasoning budget exhausted", "max_attempts", maxAttempts)
	return &Answer{Text: raw, State: StateBudgetExhausted, Iterations: maxAttempts}
}

func (r *Reasoner) generate(ctx context.Context, question string, step, maxAttempts int, transcript string) (string, error) {
	history := ""
	if transcript != "" {
		history = historyHeader + transcript
	}
	msgs, err := r.prompts.Render(ctx, prompt.PromptReasoningV1, map[string]any{
		"begin_query":  prompt.BeginSearchQuery,
		"end_query":    prompt.EndSearchQuery,
		"begin_result": prompt.BeginSearchResult,
		"end_result":   prompt.EndSearchResult,
		"max_attempts": maxAttempts,
		"question":     question,
		"step":         step,
		"history":      history,
	})
	if err != nil {
		return "", err
	}
	out, err := r.gen.Generate(ctx, &port.GenerateRequest{
		Workflow: workflowReasoning,
		Provider: r.opts.Provider,
		Messages: msgs,
	})
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

// fanOut 并发回答同一步的子问题，结果与输入顺序一致
func (r *Reasoner) fanOut(ctx context.Context, tenantID string, queries []string) []string {
	answers := make([]string, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	if r.opts.FanOutLimit > 0 {
		g.SetLimit(r.opts.FanOutLimit)
	}
	for i, q := range queries {
		g.Go(func() error {
			r.report(gctx, tenantID, entity.StatusSearching(q))
			answers[i] = r.sub.Answer(gctx, tenantID, q)
			return nil
		})
	}
	_ = g.Wait()
	return answers
}

func (r *Reasoner) report(ctx context.Context, tenantID, label string) {
	if r.status == nil {
		return
	}
	if err := r.status.Report(ctx, tenantID, label); err != nil {
		logger.Warn(ctx, "status report failed", "label", label, "error", err.Error())
	}
}

// ExtractSubQueries 抽取标记包裹的子问题，保留顺序与重复项
func ExtractSubQueries(text string) []string {
	matches := subQueryPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
