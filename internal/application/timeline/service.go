// Package timeline 时间轴浏览与事件详情查询
package timeline

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
)

// Section 某篇文档对事件的描述
type Section struct {
	Document         string `json:"document"`
	Summary          string `json:"summary,omitempty"`
	CharacterThought string `json:"character_thought,omitempty"`
	AuthorView       string `json:"author_view,omitempty"`
	Time             string `json:"time,omitempty"`
}

// EventView 事件详情
type EventView struct {
	Title    string                 `json:"title"`
	Sections []*Section             `json:"sections"`
	Related  []*entity.RelatedEvent `json:"related_events"`
}

type Service struct {
	store repository.Store
}

func NewService(store repository.Store) *Service {
	return &Service{store: store}
}

// List 每个有总结的事件一条，时间取该事件的第一条 time 行，按时间字符串升序
func (s *Service) List(ctx context.Context, tenantID string) ([]*entity.TimelineEntry, error) {
	ctx, span := otel.Tracer("timeline").Start(ctx, "timeline.List")
	defer span.End()

	summaries, err := s.store.Details.Scan(ctx, tenantID, repository.DetailFilter{
		Fields: []entity.DetailField{entity.FieldSummary},
	})
	if err != nil {
		return nil, err
	}
	times, err := s.store.Details.Scan(ctx, tenantID, repository.DetailFilter{
		Fields: []entity.DetailField{entity.FieldTime},
	})
	if err != nil {
		return nil, err
	}

	timeOf := make(map[string]string, len(times))
	for _, r := range times {
		if _, ok := timeOf[r.Title]; !ok {
			timeOf[r.Title] = r.Text
		}
	}

	out := make([]*entity.TimelineEntry, 0, len(summaries))
	seen := make(map[string]struct{}, len(summaries))
	for _, r := range summaries {
		if _, ok := seen[r.Title]; ok {
			continue
		}
		seen[r.Title] = struct{}{}
		out = append(out, &entity.TimelineEntry{
			Title:    r.Title,
			Time:     timeOf[r.Title],
			Summary:  r.Text,
			Document: r.SourceDocument,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

// Detail 事件在各文档中的描述及其后续相关事件
func (s *Service) Detail(ctx context.Context, tenantID, title string) (*EventView, error) {
	ctx, span := otel.Tracer("timeline").Start(ctx, "timeline.Detail")
	defer span.End()

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("title is required")
	}
	rows, err := s.store.Details.Scan(ctx, tenantID, repository.DetailFilter{Titles: []string{title}})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrEventNotFound.WithDetail(title)
	}

	view := &EventView{Title: title, Related: []*entity.RelatedEvent{}}
	byDoc := make(map[string]*Section)
	for _, r := range rows {
		sec, ok := byDoc[r.SourceDocument]
		if !ok {
			sec = &Section{Document: r.SourceDocument}
			byDoc[r.SourceDocument] = sec
			view.Sections = append(view.Sections, sec)
		}
		switch r.Field {
		case entity.FieldSummary:
			sec.Summary = r.Text
		case entity.FieldCharacterThought:
			sec.CharacterThought = r.Text
		case entity.FieldAuthorView:
			sec.AuthorView = r.Text
		case entity.FieldTime:
			sec.Time = r.Text
		}
	}

	rels, err := s.store.Relations.ListFrom(ctx, tenantID, title)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		view.Related = append(view.Related, &entity.RelatedEvent{Event: rel.Event2, Relation: rel.RelationText})
	}
	return view, nil
}

// Segments 文档的分块与滚动摘要，按顺序
func (s *Service) Segments(ctx context.Context, tenantID, document string) ([]*entity.ArticleSegment, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("document is required")
	}
	segs, err := s.store.Segments.ListByDocument(ctx, tenantID, document)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, apperrors.ErrDocumentNotFound.WithDetail(document)
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Seq < segs[j].Seq })
	return segs, nil
}
