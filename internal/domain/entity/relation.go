// Package entity 定义领域实体
package entity

import (
	"time"
)

// EventRelation 事件间关系；两端都必须是已解析的规范标题
type EventRelation struct {
	ID           uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID     string    `json:"tenant_id" gorm:"type:varchar(128);not null;uniqueIndex:uk_event_relation,priority:1"`
	Event1       string    `json:"event_1" gorm:"column:event_1;type:varchar(512);not null;uniqueIndex:uk_event_relation,priority:2"`
	Event2       string    `json:"event_2" gorm:"column:event_2;type:varchar(512);not null;uniqueIndex:uk_event_relation,priority:3"`
	RelationText string    `json:"relation" gorm:"column:relation_text;type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (EventRelation) TableName() string {
	return "event_relations"
}

// NewEventRelation 创建新关系
func NewEventRelation(tenantID, event1, event2, text string) *EventRelation {
	return &EventRelation{
		TenantID:     tenantID,
		Event1:       event1,
		Event2:       event2,
		RelationText: text,
		CreatedAt:    time.Now(),
	}
}

// RelatedEvent 相关事件视图
type RelatedEvent struct {
	Event    string `json:"event"`
	Relation string `json:"relation"`
}
