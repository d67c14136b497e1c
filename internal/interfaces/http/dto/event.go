// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"timeline-rag-api/internal/application/timeline"
	"timeline-rag-api/internal/domain/entity"
)

// TimelineResponse 时间轴响应
type TimelineResponse struct {
	Items []*entity.TimelineEntry `json:"items"`
}

// EventSectionResponse 单篇文档对事件的描述
type EventSectionResponse struct {
	Document         string `json:"document"`
	Summary          string `json:"summary,omitempty"`
	CharacterThought string `json:"character_thought,omitempty"`
	AuthorView       string `json:"author_view,omitempty"`
	Time             string `json:"time,omitempty"`
}

// RelatedEventResponse 相关事件
type RelatedEventResponse struct {
	Event    string `json:"event"`
	Relation string `json:"relation"`
}

// EventResponse 事件详情响应
type EventResponse struct {
	Title    string                  `json:"title"`
	Sections []*EventSectionResponse `json:"sections"`
	Related  []*RelatedEventResponse `json:"related_events"`
}

// SegmentResponse 文档分块
type SegmentResponse struct {
	ID             string `json:"id"`
	Seq            int    `json:"seq"`
	ChunkText      string `json:"chunk_text"`
	RollingSummary string `json:"rolling_summary"`
}

// SegmentListResponse 文档分块列表
type SegmentListResponse struct {
	Document string             `json:"document"`
	Segments []*SegmentResponse `json:"segments"`
}

// ToTimelineResponse 转换时间轴
func ToTimelineResponse(items []*entity.TimelineEntry) *TimelineResponse {
	if items == nil {
		items = []*entity.TimelineEntry{}
	}
	return &TimelineResponse{Items: items}
}

// ToEventResponse 转换事件详情
func ToEventResponse(v *timeline.EventView) *EventResponse {
	if v == nil {
		return nil
	}
	resp := &EventResponse{
		Title:    v.Title,
		Sections: make([]*EventSectionResponse, 0, len(v.Sections)),
		Related:  make([]*RelatedEventResponse, 0, len(v.Related)),
	}
	for _, s := range v.Sections {
		resp.Sections = append(resp.Sections, &EventSectionResponse{
			Document:         s.Document,
			Summary:          s.Summary,
			CharacterThought: s.CharacterThought,
			AuthorView:       s.AuthorView,
			Time:             s.Time,
		})
	}
	for _, r := range v.Related {
		resp.Related = append(resp.Related, &RelatedEventResponse{Event: r.Event, Relation: r.Relation})
	}
	return resp
}

// ToSegmentListResponse 转换文档分块
func ToSegmentListResponse(document string, segs []*entity.ArticleSegment) *SegmentListResponse {
	resp := &SegmentListResponse{
		Document: document,
		Segments: make([]*SegmentResponse, 0, len(segs)),
	}
	for _, s := range segs {
		resp.Segments = append(resp.Segments, &SegmentResponse{
			ID:             s.ID,
			Seq:            s.Seq,
			ChunkText:      s.ChunkText,
			RollingSummary: s.RollingSummary,
		})
	}
	return resp
}
