package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 1}))
}

func TestEventIndexNearestWithinBucket(t *testing.T) {
	ctx := context.Background()
	events := NewStore().Repositories().Events

	match, err := events.Nearest(ctx, "t1", []float32{1, 0}, "1937")
	require.NoError(t, err)
	assert.Nil(t, match, "empty index has no nearest event")

	require.NoError(t, events.Insert(ctx, &entity.CanonicalEvent{TenantID: "t1", Title: "卢沟桥事变", TimeBucket: "1937", Embedding: []float32{1, 0}}))
	require.NoError(t, events.Insert(ctx, &entity.CanonicalEvent{TenantID: "t1", Title: "淞沪会战", TimeBucket: "1937", Embedding: []float32{0, 1}}))
	require.NoError(t, events.Insert(ctx, &entity.CanonicalEvent{TenantID: "t1", Title: "九一八事变", TimeBucket: "1931", Embedding: []float32{1, 0}}))
	require.NoError(t, events.Insert(ctx, &entity.CanonicalEvent{TenantID: "t2", Title: "其他租户", TimeBucket: "1937", Embedding: []float32{1, 0}}))

	match, err = events.Nearest(ctx, "t1", []float32{0.9, 0.1}, "1937")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "卢沟桥事变", match.Title)
	assert.Greater(t, match.Similarity, float32(0.9))

	n, err := events.Count(ctx, "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	titles, err := events.ListTitles(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, []string{"其他租户"}, titles)
}

func TestDetailSearchAndScanFilters(t *testing.T) {
	ctx := context.Background()
	details := NewStore().Repositories().Details

	require.NoError(t, details.Append(ctx, "t1", []*entity.EventDetail{
		{Title: "卢沟桥事变", Field: entity.FieldSummary, Text: "日军借口士兵失踪", Embedding: []float32{1, 0}},
		{Title: "卢沟桥事变", Field: entity.FieldTime, Text: "1937年7月7日", Embedding: []float32{0, 1}},
		{Title: "淞沪会战", Field: entity.FieldSummary, Text: "上海爆发大规模战役", Embedding: []float32{0.7, 0.7}},
	}))

	hits, err := details.Search(ctx, "t1", []float32{1, 0}, repository.DetailFilter{Fields: []entity.DetailField{entity.FieldSummary}}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "卢沟桥事变", hits[0].Detail.Title)
	assert.NotEmpty(t, hits[0].Detail.ID)
	assert.Equal(t, "t1", hits[0].Detail.TenantID)

	rows, err := details.Scan(ctx, "t1", repository.DetailFilter{Titles: []string{"卢沟桥事变"}, TextContains: "1937"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, entity.FieldTime, rows[0].Field)

	rows, err = details.Scan(ctx, "t2", repository.DetailFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSegmentsOrderedByDocument(t *testing.T) {
	ctx := context.Background()
	segments := NewStore().Repositories().Segments

	require.NoError(t, segments.Append(ctx, "t1", []*entity.ArticleSegment{
		{ID: "b", DocTitle: "抗日战争", Seq: 2, Embedding: []float32{0, 1}},
		{ID: "a", DocTitle: "抗日战争", Seq: 1, Embedding: []float32{1, 0}},
		{ID: "c", DocTitle: "东北史", Seq: 1, Embedding: []float32{1, 0}},
	}))

	doc, err := segments.ListByDocument(ctx, "t1", "抗日战争")
	require.NoError(t, err)
	require.Len(t, doc, 2)
	assert.Equal(t, "a", doc[0].ID)
	assert.Equal(t, "b", doc[1].ID)

	all, err := segments.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	hits, err := segments.Search(ctx, "t1", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Segment.ID)
}

func TestRelationsRejectDuplicates(t *testing.T) {
	ctx := context.Background()
	relations := NewStore().Repositories().Relations

	require.NoError(t, relations.Create(ctx, entity.NewEventRelation("t1", "卢沟桥事变", "淞沪会战", "战事扩大")))
	err := relations.Create(ctx, entity.NewEventRelation("t1", "卢沟桥事变", "淞沪会战", "重复"))
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	// 方向不同视为另一条关系
	require.NoError(t, relations.Create(ctx, entity.NewEventRelation("t1", "淞沪会战", "卢沟桥事变", "承接")))

	ok, err := relations.Exists(ctx, "t1", "卢沟桥事变", "淞沪会战")
	require.NoError(t, err)
	assert.True(t, ok)

	from, err := relations.ListFrom(ctx, "t1", "卢沟桥事变")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "战事扩大", from[0].RelationText)
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	jobs := NewStore().Jobs()

	job := entity.NewIngestionJob("job-1", "t1", "抗日战争", entity.SourceText)
	require.NoError(t, jobs.Create(ctx, job))
	assert.True(t, errors.Is(jobs.Create(ctx, job), apperrors.ErrConflict))

	require.NoError(t, jobs.MarkRunning(ctx, "job-1"))
	require.NoError(t, jobs.MarkFinished(ctx, "job-1", &entity.IngestionResult{
		Segments:    3,
		EventTitles: []string{"卢沟桥事变"},
		Relations:   1,
	}, nil))

	got, err := jobs.GetByID(ctx, "t1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Segments)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	_, err = jobs.GetByID(ctx, "t2", "job-1")
	assert.True(t, errors.Is(err, apperrors.ErrJobNotFound), "jobs are tenant scoped")

	require.NoError(t, jobs.Create(ctx, entity.NewIngestionJob("job-2", "t1", "东北史", entity.SourceLink)))
	require.NoError(t, jobs.MarkFinished(ctx, "job-2", nil, errors.New("content too short")))
	got, err = jobs.GetByID(ctx, "t1", "job-2")
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusFailed, got.Status)
	assert.Equal(t, "content too short", got.ErrorMessage)

	list, err := jobs.ListByTenant(ctx, "t1", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStatusStoreExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStatusStore(time.Minute)
	s.now = func() time.Time { return now }

	st, err := s.Read(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, s.Report(ctx, "t1", "正在分析第 1 段"))
	st, err = s.Read(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "正在分析第 1 段", st.Label)

	now = now.Add(2 * time.Minute)
	st, err = s.Read(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, s.Report(ctx, "t1", "完成"))
	require.NoError(t, s.Clear(ctx, "t1"))
	st, err = s.Read(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestTenantLockerIsExclusivePerTenant(t *testing.T) {
	ctx := context.Background()
	l := NewTenantLocker()

	release, err := l.Acquire(ctx, "t1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "t1", time.Minute)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeIngestionBusy))

	other, err := l.Acquire(ctx, "t2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))
	again, err := l.Acquire(ctx, "t1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
