package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/metrics"
)

// Repository 向量存储基础仓储，负责集合、索引与分区
type Repository struct {
	client    *Client
	dimension int

	mu         sync.Mutex
	partitions map[string]struct{}
}

// NewRepository 创建向量存储仓储
func NewRepository(client *Client, dimension int) *Repository {
	return &Repository{
		client:     client,
		dimension:  dimension,
		partitions: make(map[string]struct{}),
	}
}

// Store 以仓储集合形式暴露（关系表由 PostgreSQL 提供）
func (r *Repository) Store(relations repository.RelationRepository) repository.Store {
	return repository.Store{
		Events:    &EventIndexRepository{base: r},
		Details:   &EventDetailRepository{base: r},
		Segments:  &SegmentRepository{base: r},
		Relations: relations,
	}
}

// EnsureCollections 确保三个集合与索引可用（不存在则创建），不做破坏性操作
func (r *Repository) EnsureCollections(ctx context.Context) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	for _, schema := range []*entity.Schema{
		EventIndexSchema(r.dimension),
		EventDetailSchema(r.dimension),
		ArticleSegmentSchema(r.dimension),
	} {
		name := schema.CollectionName
		exists, err := r.client.HasCollection(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			if err := r.createCollection(ctx, schema); err != nil {
				return err
			}
			if err := r.createIndex(ctx, name); err != nil {
				return err
			}
		}
		if err := r.client.LoadCollection(ctx, name); err != nil {
			return fmt.Errorf("failed to load collection %s: %w", name, err)
		}
	}
	return nil
}

func (r *Repository) createCollection(ctx context.Context, schema *entity.Schema) error {
	ctx, span := tracer.Start(ctx, "milvus.CreateCollection",
		trace.WithAttributes(attribute.String("collection", schema.CollectionName)))
	defer span.End()

	schema.CollectionName = r.client.CollectionName(schema.CollectionName)

	// 身份解析需要读到本次入库刚写入的事件
	err := r.client.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber,
		client.WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// createIndex 创建 HNSW 索引
func (r *Repository) createIndex(ctx context.Context, collection string) error {
	ctx, span := tracer.Start(ctx, "milvus.CreateIndex",
		trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	idx, err := entity.NewIndexHNSW(
		entity.COSINE,
		r.client.config.HNSWM,
		r.client.config.HNSWEfConstruction,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := r.client.milvus.CreateIndex(ctx, r.client.CollectionName(collection), vectorField, idx, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// ensurePartition 确保租户分区存在
func (r *Repository) ensurePartition(ctx context.Context, collection, tenantID string) (string, error) {
	collName := r.client.CollectionName(collection)
	partition := PartitionName(tenantID)
	key := collName + "/" + partition

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.partitions[key]; ok {
		return partition, nil
	}

	has, err := r.client.milvus.HasPartition(ctx, collName, partition)
	if err != nil {
		return "", fmt.Errorf("failed to check partition: %w", err)
	}
	if !has {
		if err := r.client.milvus.CreatePartition(ctx, collName, partition); err != nil {
			return "", fmt.Errorf("failed to create partition: %w", err)
		}
	}
	r.partitions[key] = struct{}{}
	return partition, nil
}

// existingPartition 分区尚未创建时返回空字符串
func (r *Repository) existingPartition(ctx context.Context, collection, tenantID string) (string, error) {
	collName := r.client.CollectionName(collection)
	partition := PartitionName(tenantID)

	r.mu.Lock()
	_, known := r.partitions[collName+"/"+partition]
	r.mu.Unlock()
	if known {
		return partition, nil
	}

	has, err := r.client.milvus.HasPartition(ctx, collName, partition)
	if err != nil {
		return "", fmt.Errorf("failed to check partition: %w", err)
	}
	if !has {
		return "", nil
	}
	return partition, nil
}

func (r *Repository) insert(ctx context.Context, collection, tenantID string, columns ...entity.Column) error {
	ctx, span := tracer.Start(ctx, "milvus.Insert",
		trace.WithAttributes(
			attribute.String("collection", collection),
			attribute.String("tenant_id", tenantID),
		))
	defer span.End()

	partition, err := r.ensurePartition(ctx, collection, tenantID)
	if err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeVectorDBError, "ensure partition")
	}
	if _, err := r.client.milvus.Insert(ctx, r.client.CollectionName(collection), partition, columns...); err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeVectorDBError, "insert "+collection)
	}
	return nil
}

func (r *Repository) search(ctx context.Context, collection, tenantID, expr string, outputFields []string, vector []float32, topK int) (*client.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "milvus.Search",
		trace.WithAttributes(
			attribute.String("collection", collection),
			attribute.String("tenant_id", tenantID),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.MilvusSearchDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
	}()

	partition, err := r.existingPartition(ctx, collection, tenantID)
	if err != nil {
		metrics.MilvusSearchTotal.WithLabelValues(collection, "error").Inc()
		return nil, apperrors.Wrap(err, apperrors.CodeVectorDBError, "search "+collection)
	}
	if partition == "" {
		return nil, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(r.searchEf(topK))
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := r.client.milvus.Search(ctx,
		r.client.CollectionName(collection),
		[]string{partition},
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		vectorField,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		metrics.MilvusSearchTotal.WithLabelValues(collection, "error").Inc()
		return nil, apperrors.Wrap(err, apperrors.CodeVectorDBError, "search "+collection)
	}
	metrics.MilvusSearchTotal.WithLabelValues(collection, "ok").Inc()
	if len(results) == 0 {
		return nil, nil
	}
	span.SetAttributes(attribute.Int("result_count", results[0].ResultCount))
	return &results[0], nil
}

func (r *Repository) query(ctx context.Context, collection, tenantID, expr string, outputFields []string) (client.ResultSet, error) {
	ctx, span := tracer.Start(ctx, "milvus.Query",
		trace.WithAttributes(
			attribute.String("collection", collection),
			attribute.String("tenant_id", tenantID),
		))
	defer span.End()

	partition, err := r.existingPartition(ctx, collection, tenantID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeVectorDBError, "query "+collection)
	}
	if partition == "" {
		return nil, nil
	}

	opts := []client.SearchQueryOptionFunc{}
	if limit := r.client.config.ScanLimit; limit > 0 && !isCountQuery(outputFields) {
		opts = append(opts, client.WithLimit(int64(limit)))
	}
	rs, err := r.client.milvus.Query(ctx,
		r.client.CollectionName(collection),
		[]string{partition},
		expr,
		outputFields,
		opts...,
	)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeVectorDBError, "query "+collection)
	}
	return rs, nil
}

func (r *Repository) searchEf(topK int) int {
	ef := r.client.config.SearchEf
	if ef < topK {
		ef = topK
	}
	if ef <= 0 {
		ef = 64
	}
	return ef
}

func isCountQuery(fields []string) bool {
	return len(fields) == 1 && fields[0] == "count(*)"
}

// 表达式构造

func tenantExpr(tenantID string) string {
	return "tenant_id == " + strconv.Quote(tenantID)
}

func inExpr(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return field + " in [" + strings.Join(quoted, ", ") + "]"
}

func likeExpr(field, contains string) string {
	return field + " like " + strconv.Quote("%"+contains+"%")
}

func andExpr(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, "("+p+")")
		}
	}
	return strings.Join(nonEmpty, " && ")
}

// 结果列读取

func varcharAt(rs client.ResultSet, name string, i int) string {
	col, ok := rs.GetColumn(name).(*entity.ColumnVarChar)
	if !ok || i >= col.Len() {
		return ""
	}
	return col.Data()[i]
}

func int64At(rs client.ResultSet, name string, i int) int64 {
	col, ok := rs.GetColumn(name).(*entity.ColumnInt64)
	if !ok || i >= col.Len() {
		return 0
	}
	return col.Data()[i]
}

func resultLen(rs client.ResultSet) int {
	if col := rs.GetColumn("id"); col != nil {
		return col.Len()
	}
	return 0
}

// createdAtColumn 同批次内按顺序递增，保证扫描时可恢复写入顺序
func createdAtColumn(n int, base time.Time) *entity.ColumnInt64 {
	vals := make([]int64, n)
	ns := base.UnixNano()
	for i := range vals {
		vals[i] = ns + int64(i)
	}
	return entity.NewColumnInt64("created_at", vals)
}
