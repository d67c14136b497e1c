// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/lib/pq"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// SourceKind 文档来源
type SourceKind string

const (
	SourceText SourceKind = "text"
	SourceLink SourceKind = "link"
)

// IngestionJob 文档入库任务
type IngestionJob struct {
	ID           string         `json:"id" gorm:"type:varchar(64);primaryKey"`
	TenantID     string         `json:"tenant_id" gorm:"type:varchar(128);index;not null"`
	DocumentName string         `json:"document_name" gorm:"type:varchar(512);not null"`
	Source       SourceKind     `json:"source" gorm:"type:varchar(16);not null"`
	SourceURL    string         `json:"source_url,omitempty" gorm:"type:text"`
	Status       JobStatus      `json:"status" gorm:"type:varchar(16);index;not null"`
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	EventTitles  pq.StringArray `json:"event_titles,omitempty" gorm:"type:text[]"`
	Segments     int            `json:"segments"`
	Relations    int            `json:"relations"`
	FailedEvents int            `json:"failed_events"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// TableName 指定表名
func (IngestionJob) TableName() string {
	return "ingestion_jobs"
}

// NewIngestionJob 创建新任务
func NewIngestionJob(id, tenantID, documentName string, source SourceKind) *IngestionJob {
	return &IngestionJob{
		ID:           id,
		TenantID:     tenantID,
		DocumentName: documentName,
		Source:       source,
		Status:       JobStatusPending,
		CreatedAt:    time.Now(),
	}
}

// IngestionResult 单次入库结果
type IngestionResult struct {
	Segments     int      `json:"segments"`
	EventTitles  []string `json:"event_titles"`
	NewEvents    int      `json:"new_events"`
	Relations    int      `json:"relations"`
	FailedEvents int      `json:"failed_events"`
}
