// Package ingest 实现文档入库：分块滚动摘要、时间轴抽取、事件身份解析、关系抽取与事件详情生成
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
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

const (
	workflowTimeline       = "ingest.timeline"
	workflowRollingSummary = "ingest.rolling_summary"
	workflowRelations      = "ingest.relations"
	workflowEventDetail    = "ingest.event_detail"
)

// Options 入库参数
type Options struct {
	ChunkSize           int
	ChunkOverlap        int
	SeedContext         string
	SegmentIDPrefix     int
	SimilarityThreshold float64
	DetailConcurrency   int
}

// OptionsFromConfig 从配置构建入库参数
func OptionsFromConfig(cfg *config.IngestConfig) Options {
	opts := Options{
		ChunkSize:           2000,
		ChunkOverlap:        600,
		SeedContext:         "这是第一段",
		SegmentIDPrefix:     1024,
		SimilarityThreshold: DefaultSimilarityThreshold,
		DetailConcurrency:   4,
	}
	if cfg == nil {
		return opts
	}
	if cfg.ChunkSize > 0 {
		opts.ChunkSize = cfg.ChunkSize
	}
	if cfg.ChunkOverlap >= 0 && cfg.ChunkOverlap < opts.ChunkSize {
		opts.ChunkOverlap = cfg.ChunkOverlap
	}
	if strings.TrimSpace(cfg.SeedContext) != "" {
		opts.SeedContext = cfg.SeedContext
	}
	if cfg.SegmentIDPrefix > 0 {
		opts.SegmentIDPrefix = cfg.SegmentIDPrefix
	}
	if cfg.SimilarityThreshold > 0 {
		opts.SimilarityThreshold = cfg.SimilarityThreshold
	}
	if cfg.DetailConcurrency > 0 {
		opts.DetailConcurrency = cfg.DetailConcurrency
	}
	return opts
}

// Document 待入库的原始文档
type Document struct {
	Name string
	Text string
}

// Title 去掉扩展名后的文档标题
func (d Document) Title() string {
	name := strings.TrimSpace(d.Name)
	if ext := filepath.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// Pipeline 文档入库流水线
type Pipeline struct {
	gen      port.TextGenerator
	embedder port.Embedder
	prompts  *prompt.Registry
	store    repository.Store
	resolver *Resolver
	status   repository.StatusStore
	opts     Options
	now      func() time.Time
}

func NewPipeline(
	gen port.TextGenerator,
	embedder port.Embedder,
	prompts *prompt.Registry,
	store repository.Store,
	status repository.StatusStore,
	opts Options,
) *Pipeline {
	return &Pipeline{
		gen:      gen,
		embedder: embedder,
		prompts:  prompts,
		store:    store,
		resolver: NewResolver(embedder, store.Events, opts.SimilarityThreshold),
		status:   status,
		opts:     opts,
		now:      time.Now,
	}
}

// resolvedEvent 已解析到规范标题的时间轴条目
type resolvedEvent struct {
	Time  string
	Title string
	New   bool
}

// Process 处理一篇文档。时间轴或关系的结构化抽取失败会中止整个入库；
// 单个事件详情失败只影响该事件。
func (p *Pipeline) Process(ctx context.Context, tenantID string, doc Document) (result *entity.IngestionResult, err error) {
	title := doc.Title()
	ctx = logger.WithContext(ctx, logger.DocumentKey, title)
	ctx, span := otel.Tracer("ingest").Start(ctx, "ingest.Process")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID), attribute.String("document", title))

	start := time.Now()
	defer func() {
		metrics.IngestionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.IngestionTotal.WithLabelValues("failed").Inc()
			p.report(ctx, tenantID, entity.StatusError(errorLabel(err)))
			logger.Error(ctx, "ingestion failed", err)
			return
		}
		metrics.IngestionTotal.WithLabelValues("success").Inc()
	}()

	if title == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("document name is required")
	}
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return nil, apperrors.ErrContentTooShort.WithDetail("document is empty")
	}

	p.report(ctx, tenantID, entity.StatusAnalyzing)
	timeline, err := p.extractTimeline(ctx, text)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "timeline extracted", "events", len(timeline))

	p.report(ctx, tenantID, entity.StatusSummarizing)
	segments, err := p.summarize(ctx, tenantID, title, text)
	if err != nil {
		return nil, err
	}

	p.report(ctx, tenantID, entity.StatusExtractingEvents)
	resolved, err := p.resolveAll(ctx, tenantID, timeline)
	if err != nil {
		return nil, err
	}

	result = &entity.IngestionResult{Segments: segments}
	for _, ev := range resolved {
		result.EventTitles = append(result.EventTitles, ev.Title)
		if ev.New {
			result.NewEvents++
		}
	}

	if len(resolved) > 0 {
		p.report(ctx, tenantID, entity.StatusResolvingRelation)
		result.Relations, err = p.relate(ctx, tenantID, text, resolved)
		if err != nil {
			return nil, err
		}

		p.report(ctx, tenantID, entity.StatusDetailing)
		result.FailedEvents = p.detailAll(ctx, tenantID, title, text, resolved)
	}

	p.report(ctx, tenantID, entity.StatusDone)
	logger.Info(ctx, "document ingested",
		"segments", result.Segments,
		"events", len(result.EventTitles),
		"new_events", result.NewEvents,
		"relations", result.Relations,
		"failed_events", result.FailedEvents,
	)
	return result, nil
}

func (p *Pipeline) extractTimeline(ctx context.Context, text string) ([]TimelineEvent, error) {
	msgs, err := p.prompts.Render(ctx, prompt.PromptTimelineExtractV1, map[string]any{"text": text})
	if err != nil {
		return nil, err
	}
	out, err := p.gen.Generate(ctx, &port.GenerateRequest{Workflow: workflowTimeline, Messages: msgs, JSON: true})
	if err != nil {
		return nil, err
	}
	return ParseTimeline(out.Content)
}

// summarize 折叠生成滚动摘要并写入分块
func (p *Pipeline) summarize(ctx context.Context, tenantID, title, text string) (int, error) {
	chunks := SplitChunks(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, nil
	}
	summaries, err := FoldSummaries(ctx, chunks, p.opts.SeedContext, llmSummarizeStep(p.gen, p.prompts))
	if err != nil {
		return 0, err
	}
	vectors, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, err
	}

	now := p.now()
	segs := make([]*entity.ArticleSegment, len(chunks))
	for i, chunk := range chunks {
		segs[i] = &entity.ArticleSegment{
			ID:             SegmentID(chunk, p.opts.SegmentIDPrefix),
			TenantID:       tenantID,
			DocTitle:       title,
			Seq:            i,
			ChunkText:      chunk,
			RollingSummary: summaries[i],
			Embedding:      vectors[i],
			CreatedAt:      now,
		}
	}
	if err := p.store.Segments.Append(ctx, tenantID, segs); err != nil {
		return 0, err
	}
	return len(segs), nil
}

// resolveAll 依次解析身份；解析失败按新事件处理。同一文档内解析到相同标题的条目只保留第一个。
func (p *Pipeline) resolveAll(ctx context.Context, tenantID string, timeline []TimelineEvent) ([]resolvedEvent, error) {
	out := make([]resolvedEvent, 0, len(timeline))
	seen := make(map[string]struct{}, len(timeline))
	for _, ev := range timeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := p.resolver.Resolve(ctx, tenantID, ev.Title, ev.Bucket())
		switch {
		case err != nil:
			logger.Warn(ctx, "identity resolution degraded to new event", "event", ev.Title, "error", err.Error())
			metrics.IdentityResolutions.WithLabelValues("degraded").Inc()
			res = &Resolution{Title: ev.Title, New: true}
		case res.New:
			metrics.IdentityResolutions.WithLabelValues("new").Inc()
		default:
			logger.Debug(ctx, "event resolved to existing identity", "event", ev.Title, "canonical", res.Title, "similarity", res.Similarity)
			metrics.IdentityResolutions.WithLabelValues("existing").Inc()
		}

		if _, dup := seen[res.Title]; dup {
			continue
		}
		seen[res.Title] = struct{}{}
		out = append(out, resolvedEvent{Time: ev.Time, Title: res.Title, New: res.New})
	}
	return out, nil
}

// relate 抽取关系，仅保存两端都在本次解析结果中的关系，已存在的有序对跳过
func (p *Pipeline) relate(ctx context.Context, tenantID, text string, resolved []resolvedEvent) (int, error) {
	titles := make(map[string]struct{}, len(resolved))
	quoted := make([]string, 0, len(resolved))
	for _, ev := range resolved {
		titles[ev.Title] = struct{}{}
		quoted = append(quoted, `"`+ev.Title+`"`)
	}

	msgs, err := p.prompts.Render(ctx, prompt.PromptRelationsV1, map[string]any{
		"events": strings.Join(quoted, "\n"),
		"text":   text,
	})
	if err != nil {
		return 0, err
	}
	out, err := p.gen.Generate(ctx, &port.GenerateRequest{Workflow: workflowRelations, Messages: msgs, JSON: true})
	if err != nil {
		return 0, err
	}
	candidates, err := ParseRelations(out.Content)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, c := range candidates {
		_, ok1 := titles[c.Event1]
		_, ok2 := titles[c.Event2]
		if !ok1 || !ok2 {
			logger.Debug(ctx, "relation dropped", "event_1", c.Event1, "event_2", c.Event2,
				"reason", apperrors.ErrRelationIntegrity.Message)
			metrics.RelationsTotal.WithLabelValues("dropped").Inc()
			continue
		}

		exists, err := p.store.Relations.Exists(ctx, tenantID, c.Event1, c.Event2)
		if err != nil {
			return stored, err
		}
		if exists {
			metrics.RelationsTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		err = p.store.Relations.Create(ctx, entity.NewEventRelation(tenantID, c.Event1, c.Event2, c.Relation))
		if apperrors.HasCode(err, apperrors.CodeConflict) {
			metrics.RelationsTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		if err != nil {
			return stored, err
		}
		metrics.RelationsTotal.WithLabelValues("stored").Inc()
		stored++
	}
	return stored, nil
}

// detailAll 并发生成事件详情，返回失败的事件数
func (p *Pipeline) detailAll(ctx context.Context, tenantID, docTitle, text string, resolved []resolvedEvent) int {
	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.opts.DetailConcurrency, 1))
	for _, ev := range resolved {
		g.Go(func() error {
			err := p.detailOne(gctx, tenantID, docTitle, text, ev)
			if err == nil {
				metrics.IngestedEvents.WithLabelValues("ok").Inc()
				return nil
			}
			metrics.IngestedEvents.WithLabelValues("failed").Inc()
			logger.Error(gctx, "event detail failed", err, "event", ev.Title)
			p.report(gctx, tenantID, entity.StatusError(fmt.Sprintf("事件 %s 处理失败", ev.Title)))
			mu.Lock()
			failed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (p *Pipeline) detailOne(ctx context.Context, tenantID, docTitle, text string, ev resolvedEvent) error {
	msgs, err := p.prompts.Render(ctx, prompt.PromptEventDetailV1, map[string]any{
		"event": ev.Title,
		"text":  text,
	})
	if err != nil {
		return err
	}
	out, err := p.gen.Generate(ctx, &port.GenerateRequest{Workflow: workflowEventDetail, Messages: msgs, JSON: true})
	if err != nil {
		return err
	}
	rec, err := ParseEventRecord(out.Content)
	if err != nil {
		return err
	}

	fields := rec.FieldTexts()
	texts := make([]string, len(fields))
	for i, f := range fields {
		texts[i] = f.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	now := p.now()
	rows := make([]*entity.EventDetail, len(fields))
	for i, f := range fields {
		rows[i] = &entity.EventDetail{
			TenantID:       tenantID,
			Title:          ev.Title,
			Field:          f.Field,
			Text:           f.Text,
			Embedding:      vectors[i],
			SourceDocument: docTitle,
			CreatedAt:      now,
		}
	}
	return p.store.Details.Append(ctx, tenantID, rows)
}

func (p *Pipeline) report(ctx context.Context, tenantID, label string) {
	if p.status == nil {
		return
	}
	if err := p.status.Report(ctx, tenantID, label); err != nil {
		logger.Warn(ctx, "status report failed", "label", label, "error", err.Error())
	}
}

func errorLabel(err error) string {
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeUnknown {
		if appErr.Detail != "" {
			return appErr.Message + ": " + appErr.Detail
		}
		return appErr.Message
	}
	return err.Error()
}
