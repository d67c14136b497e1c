package retrieval

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"timeline-rag-api/internal/config"
	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	"timeline-rag-api/internal/workflow/port"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/logger"
)

// NoResult 检索无命中时返回给模型的文本
const NoResult = "没有查询到相关内容"

// 向量命中的字段前缀
var fieldLabels = map[entity.DetailField]string{
	entity.FieldSummary:          "事件总结：",
	entity.FieldCharacterThought: "事件人物的想法：",
	entity.FieldAuthorView:       "作者的观点：",
}

var generalFields = []entity.DetailField{entity.FieldSummary, entity.FieldCharacterThought, entity.FieldAuthorView}

// Options 检索参数
type Options struct {
	K1              float64
	B               float64
	MinKeywordScore float64
	KeywordTopK     int
	VectorTopK      int
	ToolTopK        int
}

// OptionsFromConfig 从配置构建检索参数，缺省值按默认配置补齐
func OptionsFromConfig(cfg *config.RetrievalConfig) Options {
	opts := Options{K1: DefaultK1, B: DefaultB, MinKeywordScore: 0.2, KeywordTopK: 3, VectorTopK: 3, ToolTopK: 10}
	if cfg == nil {
		return opts
	}
	if cfg.K1 > 0 {
		opts.K1 = cfg.K1
	}
	// b=0 关闭文档长度归一化
	if cfg.B >= 0 && cfg.B <= 1 {
		opts.B = cfg.B
	}
	if cfg.MinKeywordScore > 0 {
		opts.MinKeywordScore = cfg.MinKeywordScore
	}
	if cfg.KeywordTopK > 0 {
		opts.KeywordTopK = cfg.KeywordTopK
	}
	if cfg.VectorTopK > 0 {
		opts.VectorTopK = cfg.VectorTopK
	}
	if cfg.ToolTopK > 0 {
		opts.ToolTopK = cfg.ToolTopK
	}
	return opts
}

// Engine 关键词 + 向量混合检索
type Engine struct {
	embedder  port.Embedder
	details   repository.EventDetailRepository
	segments  repository.SegmentRepository
	tokenizer Tokenizer
	opts      Options
}

func NewEngine(embedder port.Embedder, store repository.Store, tokenizer Tokenizer, opts Options) *Engine {
	if tokenizer == nil {
		tokenizer = BigramTokenizer{}
	}
	return &Engine{
		embedder:  embedder,
		details:   store.Details,
		segments:  store.Segments,
		tokenizer: tokenizer,
		opts:      opts,
	}
}

func (e *Engine) Options() Options { return e.opts }

// KeywordSearch 对租户全部分块的滚动摘要做 BM25 检索
func (e *Engine) KeywordSearch(ctx context.Context, tenantID, query string) ([]string, error) {
	ctx, span := otel.Tracer("retrieval").Start(ctx, "retrieval.KeywordSearch")
	defer span.End()

	segs, err := e.segments.List(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	corpus := make([]string, 0, len(segs))
	for _, s := range segs {
		corpus = append(corpus, s.RollingSummary)
	}
	span.SetAttributes(attribute.Int("corpus.size", len(corpus)))
	return e.rank(corpus, query), nil
}

func (e *Engine) rank(corpus []string, query string) []string {
	if len(corpus) == 0 {
		return nil
	}
	tokenized := make([][]string, len(corpus))
	for i, doc := range corpus {
		tokenized[i] = e.tokenizer.Tokenize(doc)
	}
	idx := NewBM25(tokenized, e.opts.K1, e.opts.B)

	top := idx.Top(e.tokenizer.Tokenize(query), e.opts.KeywordTopK, e.opts.MinKeywordScore)
	out := make([]string, 0, len(top))
	for _, d := range top {
		out = append(out, corpus[d.Index])
	}
	return out
}

// VectorSearch 对细节表做向量检索
func (e *Engine) VectorSearch(ctx context.Context, tenantID, query string, filter repository.DetailFilter, topK int) ([]*entity.DetailHit, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return e.details.Search(ctx, tenantID, vec, filter, topK)
}

// Search 返回关键词命中与向量命中的拼接结果（不去重、不重排），各取前若干条
func (e *Engine) Search(ctx context.Context, tenantID, query string) (string, error) {
	blocks, err := e.SearchBlocks(ctx, tenantID, query)
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		return NoResult, nil
	}
	return strings.Join(blocks, "\n\n"), nil
}

// SearchBlocks 与 Search 相同，但按条返回。
// 关键词与向量两路各自可降级，都失败时返回错误。
func (e *Engine) SearchBlocks(ctx context.Context, tenantID, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("query is required")
	}

	keyword, kwErr := e.KeywordSearch(ctx, tenantID, query)
	if kwErr != nil {
		logger.Warn(ctx, "keyword search degraded", "error", kwErr.Error())
	}

	vector, vecErr := e.vectorBlocks(ctx, tenantID, query)
	if vecErr != nil {
		logger.Warn(ctx, "vector search degraded", "error", vecErr.Error())
	}
	if kwErr != nil && vecErr != nil {
		return nil, apperrors.Wrap(vecErr, apperrors.CodeRetrievalFailed, "hybrid search failed")
	}

	out := make([]string, 0, len(keyword)+len(vector))
	out = append(out, keyword...)
	out = append(out, vector...)
	return out, nil
}

func (e *Engine) vectorBlocks(ctx context.Context, tenantID, query string) ([]string, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := e.details.Search(ctx, tenantID, vec, repository.DetailFilter{Fields: generalFields}, e.opts.VectorTopK)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hits)+e.opts.VectorTopK)
	for _, h := range hits {
		if label, ok := fieldLabels[h.Detail.Field]; ok {
			out = append(out, label+h.Detail.Text)
		}
	}

	segs, err := e.segments.Search(ctx, tenantID, vec, e.opts.VectorTopK)
	if err != nil {
		return nil, err
	}
	for _, s := range segs {
		out = append(out, s.Segment.RollingSummary)
	}
	return out, nil
}
