// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"timeline-rag-api/internal/application/agent"
	"timeline-rag-api/internal/domain/entity"
)

// QueryRequest 问答请求
type QueryRequest struct {
	Question    string `json:"question" binding:"required,max=5000"`
	MaxAttempts int    `json:"max_attempts" binding:"omitempty,min=1,max=10"`
}

// QueryResponse 问答响应
type QueryResponse struct {
	Answer     string `json:"answer"`
	State      string `json:"state"`
	Iterations int    `json:"iterations"`
}

// SearchRequest 混合检索调试请求
type SearchRequest struct {
	Query string `json:"query" binding:"required,max=5000"`
}

// SearchResponse 混合检索结果块
type SearchResponse struct {
	Blocks []string `json:"blocks"`
}

// StatusResponse 租户处理状态
type StatusResponse struct {
	Label     string     `json:"label"`
	Terminal  bool       `json:"terminal"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ToQueryResponse 转换推理结果
func ToQueryResponse(a *agent.Answer) *QueryResponse {
	if a == nil {
		return nil
	}
	return &QueryResponse{Answer: a.Text, State: string(a.State), Iterations: a.Iterations}
}

// ToStatusResponse 无状态时返回空标签
func ToStatusResponse(s *entity.Status) *StatusResponse {
	if s == nil {
		return &StatusResponse{}
	}
	at := s.UpdatedAt
	return &StatusResponse{Label: s.Label, Terminal: s.Terminal(), UpdatedAt: &at}
}
