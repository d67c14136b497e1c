package ingest

import (
	"strings"

	"github.com/tidwall/gjson"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/workflow/node"
	apperrors "timeline-rag-api/pkg/errors"
)

// TimelineEvent 时间轴抽取出的 (时间, 事件) 对
type TimelineEvent struct {
	Time  string `json:"time"`
	Title string `json:"event"`
}

// Bucket 时间桶
func (e TimelineEvent) Bucket() string { return node.TimeBucket(e.Time) }

// ParseTimeline 解析 {"events": [{"time", "event"}]}；缺少事件名的条目被忽略
func ParseTimeline(output string) ([]TimelineEvent, error) {
	obj, err := node.ParseJSONObject(output)
	if err != nil {
		return nil, err
	}
	items, err := node.RequireArray(obj, "events")
	if err != nil {
		return nil, err
	}
	out := make([]TimelineEvent, 0, len(items))
	for _, it := range items {
		title := strings.TrimSpace(node.FlattenText(it.Get("event")))
		if title == "" {
			continue
		}
		out = append(out, TimelineEvent{
			Time:  strings.TrimSpace(node.FlattenText(it.Get("time"))),
			Title: title,
		})
	}
	return out, nil
}

// RelationCandidate 模型给出的候选关系
type RelationCandidate struct {
	Event1   string
	Event2   string
	Relation string
}

// ParseRelations 解析 {"relations": [{"event_1", "event_2", "relation"}]}
func ParseRelations(output string) ([]RelationCandidate, error) {
	obj, err := node.ParseJSONObject(output)
	if err != nil {
		return nil, err
	}
	items, err := node.RequireArray(obj, "relations")
	if err != nil {
		return nil, err
	}
	out := make([]RelationCandidate, 0, len(items))
	for _, it := range items {
		out = append(out, RelationCandidate{
			Event1:   strings.TrimSpace(it.Get("event_1").String()),
			Event2:   strings.TrimSpace(it.Get("event_2").String()),
			Relation: strings.TrimSpace(node.FlattenText(it.Get("relation"))),
		})
	}
	return out, nil
}

// EventRecord 单个事件的结构化详情
type EventRecord struct {
	Summary string
	Thought string
	Author  string
	Time    string
	People  []string
}

// ParseEventRecord 解析事件详情；thought 可以是文本，也可以是 人物→想法 的映射
func ParseEventRecord(output string) (*EventRecord, error) {
	obj, err := node.ParseJSONObject(output)
	if err != nil {
		return nil, err
	}
	rec := &EventRecord{
		Summary: node.FlattenText(obj.Get("summary")),
		Thought: flattenThought(obj.Get("thought")),
		Author:  node.FlattenText(obj.Get("author")),
		Time:    node.FlattenText(obj.Get("time")),
	}
	for _, p := range obj.Get("people").Array() {
		if name := strings.TrimSpace(p.String()); name != "" {
			rec.People = append(rec.People, name)
		}
	}
	if rec.Summary == "" && rec.Thought == "" && rec.Author == "" && rec.Time == "" {
		return nil, apperrors.ErrStructuredOutput.WithDetail("event record has no fields")
	}
	return rec, nil
}

// flattenThought 映射展开为 "人物：想法" 行
func flattenThought(v gjson.Result) string {
	if !v.IsObject() {
		return node.FlattenText(v)
	}
	var sb strings.Builder
	v.ForEach(func(key, value gjson.Result) bool {
		text := node.FlattenText(value)
		if text == "" {
			return true
		}
		sb.WriteString(key.String())
		sb.WriteString("：")
		sb.WriteString(text)
		sb.WriteString("\n")
		return true
	})
	return strings.TrimSpace(sb.String())
}

// FieldTexts 按字段顺序返回非空字段
func (r *EventRecord) FieldTexts() []FieldText {
	all := []FieldText{
		{Field: entity.FieldSummary, Text: r.Summary},
		{Field: entity.FieldCharacterThought, Text: r.Thought},
		{Field: entity.FieldAuthorView, Text: r.Author},
		{Field: entity.FieldTime, Text: r.Time},
	}
	out := all[:0]
	for _, f := range all {
		if strings.TrimSpace(f.Text) != "" {
			out = append(out, f)
		}
	}
	return out
}

// FieldText 字段与文本
type FieldText struct {
	Field entity.DetailField
	Text  string
}
