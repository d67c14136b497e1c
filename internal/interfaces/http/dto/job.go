// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"timeline-rag-api/internal/domain/entity"
)

// SubmitDocumentRequest 上传文档；text 与 url 至少一个，text 中出现的链接同样会被识别
type SubmitDocumentRequest struct {
	Name string `json:"name" binding:"required"`
	Text string `json:"text"`
	URL  string `json:"url"`
}

// SubmitDocumentResponse 上传结果
type SubmitDocumentResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Source string `json:"source"`
}

// JobResponse 入库任务响应
type JobResponse struct {
	ID           string     `json:"id"`
	DocumentName string     `json:"document_name"`
	Source       string     `json:"source"`
	SourceURL    string     `json:"source_url,omitempty"`
	Status       string     `json:"status"`
	ErrorMsg     string     `json:"error_msg,omitempty"`
	EventTitles  []string   `json:"event_titles"`
	Segments     int        `json:"segments"`
	Relations    int        `json:"relations"`
	FailedEvents int        `json:"failed_events"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse 任务列表响应
type JobListResponse struct {
	Jobs []*JobResponse `json:"jobs"`
}

// ToJobResponse 将领域实体转换为响应 DTO
func ToJobResponse(j *entity.IngestionJob) *JobResponse {
	if j == nil {
		return nil
	}
	titles := []string(j.EventTitles)
	if titles == nil {
		titles = []string{}
	}
	return &JobResponse{
		ID:           j.ID,
		DocumentName: j.DocumentName,
		Source:       string(j.Source),
		SourceURL:    j.SourceURL,
		Status:       string(j.Status),
		ErrorMsg:     j.ErrorMessage,
		EventTitles:  titles,
		Segments:     j.Segments,
		Relations:    j.Relations,
		FailedEvents: j.FailedEvents,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

// ToJobListResponse 将领域实体列表转换为响应 DTO
func ToJobListResponse(jobs []*entity.IngestionJob) *JobListResponse {
	resp := &JobListResponse{Jobs: make([]*JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, ToJobResponse(j))
	}
	return resp
}
