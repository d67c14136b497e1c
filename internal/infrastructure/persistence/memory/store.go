// Package memory 提供进程内存储实现，用于开发、命令行与测试
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
)

// Store 暴力余弦检索的内存存储，按租户隔离
type Store struct {
	mu        sync.RWMutex
	events    map[string][]*entity.CanonicalEvent
	details   map[string][]*entity.EventDetail
	segments  map[string][]*entity.ArticleSegment
	relations map[string][]*entity.EventRelation
	jobs      map[string]*entity.IngestionJob
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		events:    make(map[string][]*entity.CanonicalEvent),
		details:   make(map[string][]*entity.EventDetail),
		segments:  make(map[string][]*entity.ArticleSegment),
		relations: make(map[string][]*entity.EventRelation),
		jobs:      make(map[string]*entity.IngestionJob),
	}
}

// Repositories 以仓储集合形式暴露
func (s *Store) Repositories() repository.Store {
	return repository.Store{
		Events:    (*eventIndex)(s),
		Details:   (*detailTable)(s),
		Segments:  (*segmentTable)(s),
		Relations: (*relationTable)(s),
	}
}

// Jobs 入库任务仓储
func (s *Store) Jobs() repository.IngestionJobRepository {
	return (*jobTable)(s)
}

type eventIndex Store

func (r *eventIndex) Count(_ context.Context, tenantID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.events[tenantID])), nil
}

func (r *eventIndex) Insert(_ context.Context, event *entity.CanonicalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.events[event.TenantID] = append(r.events[event.TenantID], &cp)
	return nil
}

func (r *eventIndex) Nearest(_ context.Context, tenantID string, vector []float32, timeBucket string) (*entity.EventMatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entity.EventMatch
	for _, ev := range r.events[tenantID] {
		if ev.TimeBucket != timeBucket {
			continue
		}
		sim := Cosine(vector, ev.Embedding)
		if best == nil || sim > best.Similarity {
			best = &entity.EventMatch{Title: ev.Title, TimeBucket: ev.TimeBucket, Similarity: sim}
		}
	}
	return best, nil
}

func (r *eventIndex) ListTitles(_ context.Context, tenantID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	titles := make([]string, 0, len(r.events[tenantID]))
	for _, ev := range r.events[tenantID] {
		titles = append(titles, ev.Title)
	}
	return titles, nil
}

type detailTable Store

func (r *detailTable) Append(_ context.Context, tenantID string, details []*entity.EventDetail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range details {
		cp := *d
		cp.TenantID = tenantID
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now()
		}
		r.details[tenantID] = append(r.details[tenantID], &cp)
	}
	return nil
}

func (r *detailTable) Search(_ context.Context, tenantID string, vector []float32, filter repository.DetailFilter, topK int) ([]*entity.DetailHit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hits := make([]*entity.DetailHit, 0)
	for _, d := range r.details[tenantID] {
		if !matchDetail(d, filter) {
			continue
		}
		hits = append(hits, &entity.DetailHit{Detail: d, Score: Cosine(vector, d.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (r *detailTable) Scan(_ context.Context, tenantID string, filter repository.DetailFilter) ([]*entity.EventDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.EventDetail, 0)
	for _, d := range r.details[tenantID] {
		if matchDetail(d, filter) {
			out = append(out, d)
		}
	}
	return out, nil
}

func matchDetail(d *entity.EventDetail, filter repository.DetailFilter) bool {
	if len(filter.Fields) > 0 && !containsField(filter.Fields, d.Field) {
		return false
	}
	if len(filter.Titles) > 0 && !containsString(filter.Titles, d.Title) {
		return false
	}
	if filter.TextContains != "" && !strings.Contains(d.Text, filter.TextContains) {
		return false
	}
	return true
}

type segmentTable Store

func (r *segmentTable) Append(_ context.Context, tenantID string, segments []*entity.ArticleSegment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, seg := range segments {
		cp := *seg
		cp.TenantID = tenantID
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now()
		}
		r.segments[tenantID] = append(r.segments[tenantID], &cp)
	}
	return nil
}

func (r *segmentTable) Search(_ context.Context, tenantID string, vector []float32, topK int) ([]*entity.SegmentHit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hits := make([]*entity.SegmentHit, 0, len(r.segments[tenantID]))
	for _, seg := range r.segments[tenantID] {
		hits = append(hits, &entity.SegmentHit{Segment: seg, Score: Cosine(vector, seg.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (r *segmentTable) List(_ context.Context, tenantID string) ([]*entity.ArticleSegment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*entity.ArticleSegment(nil), r.segments[tenantID]...), nil
}

func (r *segmentTable) ListByDocument(_ context.Context, tenantID, docTitle string) ([]*entity.ArticleSegment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.ArticleSegment, 0)
	for _, seg := range r.segments[tenantID] {
		if seg.DocTitle == docTitle {
			out = append(out, seg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

type relationTable Store

func (r *relationTable) Exists(_ context.Context, tenantID, event1, event2 string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.existsLocked(tenantID, event1, event2), nil
}

func (r *relationTable) existsLocked(tenantID, event1, event2 string) bool {
	for _, rel := range r.relations[tenantID] {
		if rel.Event1 == event1 && rel.Event2 == event2 {
			return true
		}
	}
	return false
}

func (r *relationTable) Create(_ context.Context, relation *entity.EventRelation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.existsLocked(relation.TenantID, relation.Event1, relation.Event2) {
		return apperrors.ErrConflict.WithDetail(relation.Event1 + " -> " + relation.Event2)
	}
	cp := *relation
	cp.ID = uint64(len(r.relations[relation.TenantID]) + 1)
	r.relations[relation.TenantID] = append(r.relations[relation.TenantID], &cp)
	return nil
}

func (r *relationTable) ListFrom(_ context.Context, tenantID, event1 string) ([]*entity.EventRelation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.EventRelation, 0)
	for _, rel := range r.relations[tenantID] {
		if rel.Event1 == event1 {
			out = append(out, rel)
		}
	}
	return out, nil
}

type jobTable Store

func (r *jobTable) Create(_ context.Context, job *entity.IngestionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return apperrors.ErrConflict.WithDetail("job " + job.ID)
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *jobTable) GetByID(_ context.Context, tenantID, id string) (*entity.IngestionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok || job.TenantID != tenantID {
		return nil, apperrors.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *jobTable) MarkRunning(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrJobNotFound
	}
	now := time.Now()
	job.Status = entity.JobStatusRunning
	job.StartedAt = &now
	return nil
}

func (r *jobTable) MarkFinished(_ context.Context, id string, result *entity.IngestionResult, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrJobNotFound
	}
	now := time.Now()
	job.CompletedAt = &now
	applyResult(job, result, err)
	return nil
}

func (r *jobTable) ListByTenant(_ context.Context, tenantID string, limit int) ([]*entity.IngestionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.IngestionJob, 0)
	for _, job := range r.jobs {
		if job.TenantID == tenantID {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func applyResult(job *entity.IngestionJob, result *entity.IngestionResult, err error) {
	if err != nil {
		job.Status = entity.JobStatusFailed
		job.ErrorMessage = err.Error()
	} else {
		job.Status = entity.JobStatusCompleted
	}
	if result != nil {
		job.EventTitles = append(job.EventTitles[:0], result.EventTitles...)
		job.Segments = result.Segments
		job.Relations = result.Relations
		job.FailedEvents = result.FailedEvents
	}
}

// Cosine 余弦相似度；任一向量为零向量时返回 0
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func containsField(fields []entity.DetailField, f entity.DetailField) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
