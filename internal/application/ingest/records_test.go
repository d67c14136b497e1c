package ingest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline-rag-api/internal/domain/entity"
	apperrors "timeline-rag-api/pkg/errors"
)

func TestParseTimeline(t *testing.T) {
	out := "结果如下：\n```json\n" +
		`{"events": [{"time": "1931年9月18日", "event": "九一八事变"}, {"time": "1937年", "event": ""}, {"time": "1937年7月7日", "event": "卢沟桥事变"}]}` +
		"\n```"

	got, err := ParseTimeline(out)
	require.NoError(t, err)
	want := []TimelineEvent{
		{Time: "1931年9月18日", Title: "九一八事变"},
		{Time: "1937年7月7日", Title: "卢沟桥事变"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("timeline mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "1931", got[0].Bucket())
}

func TestParseTimelineRejectsMalformed(t *testing.T) {
	_, err := ParseTimeline("不是 JSON")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStructuredOutput))

	_, err = ParseTimeline(`{"items": []}`)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStructuredOutput))
}

func TestParseRelations(t *testing.T) {
	got, err := ParseRelations(`{"relations": [{"event_1": " 九一八事变 ", "event_2": "卢沟桥事变", "relation": "前者为后者埋下伏笔"}]}`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, RelationCandidate{Event1: "九一八事变", Event2: "卢沟桥事变", Relation: "前者为后者埋下伏笔"}, got[0])
}

func TestParseEventRecordFlattensThoughtMap(t *testing.T) {
	rec, err := ParseEventRecord(`{"summary": "关东军炸毁铁路", "thought": {"张学良": "不抵抗", "蒋介石": "攘外必先安内"}, "author": "作者认为是侵华开端", "time": "1931年9月18日", "people": ["张学良", "蒋介石"]}`)
	require.NoError(t, err)

	assert.Equal(t, "张学良：不抵抗\n蒋介石：攘外必先安内", rec.Thought)
	assert.Equal(t, []string{"张学良", "蒋介石"}, rec.People)

	fields := rec.FieldTexts()
	want := []FieldText{
		{Field: entity.FieldSummary, Text: "关东军炸毁铁路"},
		{Field: entity.FieldCharacterThought, Text: "张学良：不抵抗\n蒋介石：攘外必先安内"},
		{Field: entity.FieldAuthorView, Text: "作者认为是侵华开端"},
		{Field: entity.FieldTime, Text: "1931年9月18日"},
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEventRecordSkipsEmptyFields(t *testing.T) {
	rec, err := ParseEventRecord(`{"summary": "只有总结", "thought": "", "author": null}`)
	require.NoError(t, err)
	fields := rec.FieldTexts()
	require.Len(t, fields, 1)
	assert.Equal(t, entity.FieldSummary, fields[0].Field)

	_, err = ParseEventRecord(`{"people": ["某人"]}`)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStructuredOutput))
}
