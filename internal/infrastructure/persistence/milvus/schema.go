package milvus

import (
	"regexp"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// CollectionEventIndex 事件身份索引
	CollectionEventIndex = "event_index"
	// CollectionEventDetail 事件细节
	CollectionEventDetail = "event_detail"
	// CollectionArticleSegment 原文分块
	CollectionArticleSegment = "article_segment"

	vectorField = "vector"
)

func varcharField(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:     name,
		DataType: entity.FieldTypeVarChar,
		TypeParams: map[string]string{
			"max_length": strconv.Itoa(maxLen),
		},
	}
}

func primaryField() *entity.Field {
	f := varcharField("id", 64)
	f.PrimaryKey = true
	f.AutoID = false
	return f
}

func vectorFieldOf(dim int) *entity.Field {
	return &entity.Field{
		Name:     vectorField,
		DataType: entity.FieldTypeFloatVector,
		TypeParams: map[string]string{
			"dim": strconv.Itoa(dim),
		},
	}
}

func int64Field(name string) *entity.Field {
	return &entity.Field{Name: name, DataType: entity.FieldTypeInt64}
}

// EventIndexSchema 事件身份 Collection Schema
func EventIndexSchema(dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: CollectionEventIndex,
		Description:    "Canonical event identities for de-duplication",
		Fields: []*entity.Field{
			primaryField(),
			vectorFieldOf(dim),
			varcharField("tenant_id", 64),
			varcharField("title", 512),
			varcharField("time_bucket", 64),
			int64Field("created_at"),
		},
	}
}

// EventDetailSchema 事件细节 Collection Schema
func EventDetailSchema(dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: CollectionEventDetail,
		Description:    "Per-field event details accumulated across documents",
		Fields: []*entity.Field{
			primaryField(),
			vectorFieldOf(dim),
			varcharField("tenant_id", 64),
			varcharField("title", 512),
			varcharField("field", 32),
			varcharField("text", 65535),
			varcharField("source_document", 512),
			int64Field("created_at"),
		},
	}
}

// ArticleSegmentSchema 原文分块 Collection Schema
func ArticleSegmentSchema(dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: CollectionArticleSegment,
		Description:    "Document chunks with rolling summaries",
		Fields: []*entity.Field{
			primaryField(),
			vectorFieldOf(dim),
			varcharField("tenant_id", 64),
			varcharField("segment_id", 64),
			varcharField("doc_title", 512),
			int64Field("seq"),
			varcharField("chunk_text", 65535),
			varcharField("rolling_summary", 65535),
			int64Field("created_at"),
		},
	}
}

var partitionUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// PartitionName 生成租户分区名称；非法字符替换为下划线，检索时仍以 tenant_id 过滤
func PartitionName(tenantID string) string {
	return "tenant_" + partitionUnsafe.ReplaceAllString(tenantID, "_")
}
