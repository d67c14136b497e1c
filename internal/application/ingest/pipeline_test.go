package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	"timeline-rag-api/internal/infrastructure/persistence/memory"
	"timeline-rag-api/internal/workflow/port"
	"timeline-rag-api/internal/workflow/prompt"
	apperrors "timeline-rag-api/pkg/errors"
)

var article = strings.Repeat("一九三一年九月十八日，日本关东军炸毁柳条湖附近的铁路，史称九一八事变。"+
	"一九三七年七月七日，日军借口士兵失踪进攻宛平城，史称卢沟桥事变。", 4)

const timeline1931and1937 = `{"events": [
	{"time": "1931年9月18日", "event": "九一八事变"},
	{"time": "1937年7月7日", "event": "卢沟桥事变"}
]}`

type pipelineFixture struct {
	gen    *scriptedGenerator
	emb    *fakeEmbedder
	mem    *memory.Store
	store  repository.Store
	status *memory.StatusStore
	p      *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	gen := newScriptedGenerator().
		reply(workflowTimeline, timeline1931and1937).
		on(workflowRollingSummary, func(req *port.GenerateRequest) (string, error) {
			return "日本侵华的两个关键节点", nil
		}).
		reply(workflowRelations, `{"relations": [
			{"event_1": "九一八事变", "event_2": "卢沟桥事变", "relation": "九一八事变为全面侵华埋下伏笔"},
			{"event_1": "九一八事变", "event_2": "西安事变", "relation": "不在本文中"}
		]}`).
		on(workflowEventDetail, func(req *port.GenerateRequest) (string, error) {
			switch detailTarget(req) {
			case "九一八事变":
				return `{"summary": "关东军炸毁铁路并嫁祸中国军队", "thought": {"张学良": "不抵抗"}, "author": "作者认为这是侵华的开端", "time": "1931年9月18日", "people": ["张学良"]}`, nil
			case "卢沟桥事变":
				return `{"summary": "日军进攻宛平", "thought": "宋哲元：守土有责", "author": "作者认为全面抗战由此开始", "time": "1937年7月7日"}`, nil
			}
			return "", errors.New("unknown event")
		})
	emb := newFakeEmbedder(map[string][]float32{
		"九一八事变": {1, 0, 0},
		"九一八事件": {0.95, 0.1, 0},
		"卢沟桥事变": {0, 1, 0},
	})
	mem := memory.NewStore()
	status := memory.NewStatusStore(0)
	opts := OptionsFromConfig(nil)
	store := mem.Repositories()
	return &pipelineFixture{
		gen:    gen,
		emb:    emb,
		mem:    mem,
		store:  store,
		status: status,
		p:      NewPipeline(gen, emb, prompt.NewRegistry(), store, status, opts),
	}
}

func (f *pipelineFixture) label(t *testing.T) string {
	t.Helper()
	st, err := f.status.Read(context.Background(), tenant)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st.Label
}

func TestPipelineProcessDocument(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)

	res, err := f.p.Process(ctx, tenant, Document{Name: "抗战史.txt", Text: article})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Segments)
	assert.Equal(t, []string{"九一八事变", "卢沟桥事变"}, res.EventTitles)
	assert.Equal(t, 2, res.NewEvents)
	assert.Equal(t, 1, res.Relations)
	assert.Zero(t, res.FailedEvents)
	assert.Equal(t, entity.StatusDone, f.label(t))

	segs, err := f.store.Segments.ListByDocument(ctx, tenant, "抗战史")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "日本侵华的两个关键节点", segs[0].RollingSummary)
	assert.Equal(t, SegmentID(segs[0].ChunkText, 1024), segs[0].ID)

	rows, err := f.store.Details.Scan(ctx, tenant, repository.DetailFilter{Titles: []string{"九一八事变"}})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, entity.FieldSummary, rows[0].Field)
	assert.Equal(t, "张学良：不抵抗", rows[1].Text)
	assert.Equal(t, entity.FieldTime, rows[3].Field)
	assert.Equal(t, "1931年9月18日", rows[3].Text)
	for _, r := range rows {
		assert.Equal(t, "抗战史", r.SourceDocument)
	}

	ok, err := f.store.Relations.Exists(ctx, tenant, "九一八事变", "卢沟桥事变")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.store.Relations.Exists(ctx, tenant, "九一八事变", "西安事变")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPipelineSecondDocumentReusesIdentity(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)

	_, err := f.p.Process(ctx, tenant, Document{Name: "doc1", Text: article})
	require.NoError(t, err)

	f.gen.reply(workflowTimeline, `{"events": [{"time": "1931年9月", "event": "九一八事件"}]}`)
	f.gen.reply(workflowRelations, `{"relations": []}`)

	res, err := f.p.Process(ctx, tenant, Document{Name: "doc2", Text: article})
	require.NoError(t, err)
	assert.Equal(t, []string{"九一八事变"}, res.EventTitles)
	assert.Zero(t, res.NewEvents)

	n, err := f.store.Events.Count(ctx, tenant)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	rows, err := f.store.Details.Scan(ctx, tenant, repository.DetailFilter{
		Titles: []string{"九一八事变"},
		Fields: []entity.DetailField{entity.FieldSummary},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "doc1", rows[0].SourceDocument)
	assert.Equal(t, "doc2", rows[1].SourceDocument)

	// 已存在的有序对不重复写入
	f.gen.reply(workflowTimeline, timeline1931and1937)
	f.gen.reply(workflowRelations, `{"relations": [{"event_1": "九一八事变", "event_2": "卢沟桥事变", "relation": "再次出现"}]}`)
	res, err = f.p.Process(ctx, tenant, Document{Name: "doc3", Text: article})
	require.NoError(t, err)
	assert.Zero(t, res.Relations)
	rels, err := f.store.Relations.ListFrom(ctx, tenant, "九一八事变")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "九一八事变为全面侵华埋下伏笔", rels[0].RelationText)
}

func TestPipelineIsolatesEventFailures(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	f.gen.on(workflowEventDetail, func(req *port.GenerateRequest) (string, error) {
		if detailTarget(req) == "卢沟桥事变" {
			return "模型拒绝回答", nil
		}
		return `{"summary": "关东军炸毁铁路"}`, nil
	})

	res, err := f.p.Process(ctx, tenant, Document{Name: "doc", Text: article})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedEvents)
	assert.Equal(t, entity.StatusDone, f.label(t))

	rows, err := f.store.Details.Scan(ctx, tenant, repository.DetailFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "九一八事变", rows[0].Title)
}

func TestPipelineTimelineFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	f.gen.reply(workflowTimeline, "抱歉，我无法完成")

	_, err := f.p.Process(ctx, tenant, Document{Name: "doc", Text: article})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStructuredOutput))
	assert.True(t, strings.HasPrefix(f.label(t), "出错: "))
	assert.Zero(t, f.gen.count(workflowRollingSummary))

	n, _ := f.store.Events.Count(ctx, tenant)
	assert.Zero(t, n)
}

func TestPipelineRelationParseFailureIsFatal(t *testing.T) {
	f := newPipelineFixture(t)
	f.gen.reply(workflowRelations, `{"links": []}`)

	_, err := f.p.Process(context.Background(), tenant, Document{Name: "doc", Text: article})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStructuredOutput))
	assert.Zero(t, f.gen.count(workflowEventDetail))
}

func TestPipelineDegradesIdentityResolution(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	f.emb.fail["卢沟桥事变"] = errors.New("embedding down")
	f.gen.reply(workflowRelations, `{"relations": []}`)
	f.gen.on(workflowEventDetail, func(req *port.GenerateRequest) (string, error) {
		return `{"summary": "总结"}`, nil
	})

	res, err := f.p.Process(ctx, tenant, Document{Name: "doc", Text: article})
	require.NoError(t, err)
	assert.Equal(t, []string{"九一八事变", "卢沟桥事变"}, res.EventTitles)
	assert.Equal(t, 2, res.NewEvents)

	titles, err := f.store.Events.ListTitles(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, []string{"九一八事变"}, titles)
}

func TestPipelineRejectsEmptyDocument(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.p.Process(context.Background(), tenant, Document{Name: "doc", Text: "  "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeContentTooShort))

	_, err = f.p.Process(context.Background(), tenant, Document{Name: " ", Text: article})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParam))
}

func TestDocumentTitle(t *testing.T) {
	assert.Equal(t, "抗战史", Document{Name: "抗战史.txt"}.Title())
	assert.Equal(t, "抗战史", Document{Name: "抗战史"}.Title())
	assert.Equal(t, ".env", Document{Name: ".env"}.Title())
}
