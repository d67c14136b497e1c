package entity

import "time"

// ArticleSegment 原文分块及其滚动摘要，创建后不可变
type ArticleSegment struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	DocTitle       string    `json:"doc_title"`
	Seq            int       `json:"seq"`
	ChunkText      string    `json:"chunk_text"`
	RollingSummary string    `json:"rolling_summary"`
	Embedding      []float32 `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// SegmentHit 分块检索结果
type SegmentHit struct {
	Segment *ArticleSegment `json:"segment"`
	Score   float32         `json:"score"`
}
