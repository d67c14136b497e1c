// Package messaging 基于 Redis Streams 的入库任务队列
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"timeline-rag-api/pkg/logger"
)

// Stream 流名称
type Stream string

const StreamIngest Stream = "stream:ingest:document"

// DLQStream 死信流名称
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

// DeferredKey 记录各条目延后次数的 hash
func (s Stream) DeferredKey() string {
	return "deferred:" + string(s)
}

// ConsumerGroup 消费者组名称
type ConsumerGroup string

const ConsumerGroupIngestWorker ConsumerGroup = "cg-ingest-worker"

const TypeIngestDocument = "ingest.document"

// 跨进程透传的元数据键
const (
	MetaRequestID = "request_id"
	MetaTraceID   = "trace_id"
)

// streamField 流条目中承载整条消息的字段
const streamField = "data"

// Message 队列中的一条消息，整体以 JSON 存放在流条目的 data 字段
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	TenantID  string            `json:"tenant_id"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func NewMessage(id, msgType, tenantID string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return &Message{
		ID:        id,
		Type:      msgType,
		TenantID:  tenantID,
		Payload:   raw,
		CreatedAt: time.Now(),
	}, nil
}

func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

func (m *Message) GetMetadata(key string) string {
	return m.Metadata[key]
}

// propagate 把请求 ID 与 trace ID 写入元数据，消费端据此关联日志
func (m *Message) propagate(ctx context.Context) {
	if v, ok := ctx.Value(logger.RequestIDKey).(string); ok && v != "" {
		m.SetMetadata(MetaRequestID, v)
	}
	if v, ok := ctx.Value(logger.TraceIDKey).(string); ok && v != "" {
		m.SetMetadata(MetaTraceID, v)
	}
}

func (m *Message) UnmarshalPayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

func (m *Message) streamValues() (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return map[string]any{streamField: string(data)}, nil
}

// decodeMessage 解析流条目；字段缺失或 JSON 损坏时返回 false
func decodeMessage(xmsg redis.XMessage) (*Message, bool) {
	raw, ok := xmsg.Values[streamField].(string)
	if !ok {
		return nil, false
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

// IngestDocumentMessage 文档入库任务
type IngestDocumentMessage struct {
	JobID        string `json:"job_id"`
	TenantID     string `json:"tenant_id"`
	DocumentName string `json:"document_name"`
	Text         string `json:"text"`
	Source       string `json:"source"`
	SourceURL    string `json:"source_url,omitempty"`
}

// BackoffConfig 失败消息的重投间隔
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 2}
}

// CalculateBackoff 第 retryCount 次重投前的等待时间，不超过 Max
func (c BackoffConfig) CalculateBackoff(retryCount int) time.Duration {
	d := c.Initial
	for range retryCount {
		d = time.Duration(float64(d) * c.Multiplier)
		if d >= c.Max {
			return c.Max
		}
	}
	return d
}
