// Package entity 定义领域实体
package entity

import (
	"time"
)

// DetailField 事件细节字段
type DetailField string

const (
	FieldSummary          DetailField = "summary"
	FieldCharacterThought DetailField = "character_thought"
	FieldAuthorView       DetailField = "author_view"
	FieldTime             DetailField = "time"
)

// DetailFields 全部细节字段（入库顺序）
var DetailFields = []DetailField{FieldSummary, FieldCharacterThought, FieldAuthorView, FieldTime}

// Valid 是否为已知字段
func (f DetailField) Valid() bool {
	switch f {
	case FieldSummary, FieldCharacterThought, FieldAuthorView, FieldTime:
		return true
	default:
		return false
	}
}

// CanonicalEvent 事件索引中的身份记录，创建后不可变
type CanonicalEvent struct {
	TenantID   string    `json:"tenant_id"`
	Title      string    `json:"title"`
	TimeBucket string    `json:"time_bucket"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventMatch 事件索引的最近邻
type EventMatch struct {
	Title      string  `json:"title"`
	TimeBucket string  `json:"time_bucket"`
	Similarity float32 `json:"similarity"`
}

// EventDetail 事件的单个语义字段，同一 (事件, 字段) 可由多篇文档累积多行
type EventDetail struct {
	ID             string      `json:"id"`
	TenantID       string      `json:"tenant_id"`
	Title          string      `json:"title"`
	Field          DetailField `json:"field"`
	Text           string      `json:"text"`
	Embedding      []float32   `json:"-"`
	SourceDocument string      `json:"source_document"`
	CreatedAt      time.Time   `json:"created_at"`
}

// DetailHit 向量检索命中的细节行
type DetailHit struct {
	Detail *EventDetail `json:"detail"`
	Score  float32      `json:"score"`
}

// TimelineEntry 时间轴条目
type TimelineEntry struct {
	Title    string `json:"title"`
	Time     string `json:"time"`
	Summary  string `json:"summary"`
	Document string `json:"document"`
}
