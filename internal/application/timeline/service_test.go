package timeline

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/infrastructure/persistence/memory"
	apperrors "timeline-rag-api/pkg/errors"
)

const tenant = "tenant-a"

func seed(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	repos := memory.NewStore().Repositories()
	require.NoError(t, repos.Details.Append(ctx, tenant, []*entity.EventDetail{
		{Title: "卢沟桥事变", Field: entity.FieldSummary, Text: "日军进攻宛平", SourceDocument: "抗战史"},
		{Title: "卢沟桥事变", Field: entity.FieldTime, Text: "1937年7月7日", SourceDocument: "抗战史"},
		{Title: "九一八事变", Field: entity.FieldSummary, Text: "关东军炸毁铁路", SourceDocument: "抗战史"},
		{Title: "九一八事变", Field: entity.FieldAuthorView, Text: "侵华开端", SourceDocument: "抗战史"},
		{Title: "九一八事变", Field: entity.FieldTime, Text: "1931年9月18日", SourceDocument: "抗战史"},
		{Title: "九一八事变", Field: entity.FieldSummary, Text: "东北沦陷的起点", SourceDocument: "东北史"},
	}))
	require.NoError(t, repos.Relations.Create(ctx, entity.NewEventRelation(tenant, "九一八事变", "卢沟桥事变", "埋下伏笔")))
	require.NoError(t, repos.Segments.Append(ctx, tenant, []*entity.ArticleSegment{
		{ID: "b", DocTitle: "抗战史", Seq: 1, ChunkText: "第二块", RollingSummary: "摘要二"},
		{ID: "a", DocTitle: "抗战史", Seq: 0, ChunkText: "第一块", RollingSummary: "摘要一"},
	}))
	return NewService(repos)
}

func TestListSortsByTime(t *testing.T) {
	svc := seed(t)

	got, err := svc.List(context.Background(), tenant)
	require.NoError(t, err)
	want := []*entity.TimelineEntry{
		{Title: "九一八事变", Time: "1931年9月18日", Summary: "关东军炸毁铁路", Document: "抗战史"},
		{Title: "卢沟桥事变", Time: "1937年7月7日", Summary: "日军进攻宛平", Document: "抗战史"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("timeline mismatch (-want +got):\n%s", diff)
	}
}

func TestListEmptyTenant(t *testing.T) {
	svc := seed(t)
	got, err := svc.List(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetailGroupsByDocument(t *testing.T) {
	svc := seed(t)

	view, err := svc.Detail(context.Background(), tenant, "九一八事变")
	require.NoError(t, err)
	require.Len(t, view.Sections, 2)
	assert.Equal(t, &Section{Document: "抗战史", Summary: "关东军炸毁铁路", AuthorView: "侵华开端", Time: "1931年9月18日"}, view.Sections[0])
	assert.Equal(t, &Section{Document: "东北史", Summary: "东北沦陷的起点"}, view.Sections[1])
	assert.Equal(t, []*entity.RelatedEvent{{Event: "卢沟桥事变", Relation: "埋下伏笔"}}, view.Related)

	view, err = svc.Detail(context.Background(), tenant, "卢沟桥事变")
	require.NoError(t, err)
	assert.Empty(t, view.Related)
}

func TestDetailNotFound(t *testing.T) {
	_, err := seed(t).Detail(context.Background(), tenant, "西安事变")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEventNotFound))
}

func TestSegmentsInOrder(t *testing.T) {
	svc := seed(t)
	segs, err := svc.Segments(context.Background(), tenant, "抗战史")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "摘要一", segs[0].RollingSummary)

	_, err = svc.Segments(context.Background(), tenant, "不存在")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDocumentNotFound))
}
