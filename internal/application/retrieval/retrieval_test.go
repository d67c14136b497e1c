package retrieval

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline-rag-api/internal/config"
	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/infrastructure/persistence/memory"
)

const tenant = "t1"

type fakeEmbedder struct {
	vecs map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func newTestEngine(t *testing.T, vecs map[string][]float32) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	opts := OptionsFromConfig(nil)
	return NewEngine(&fakeEmbedder{vecs: vecs}, store.Repositories(), BigramTokenizer{}, opts), store
}

func TestBigramTokenizer(t *testing.T) {
	got := BigramTokenizer{}.Tokenize("卢沟桥事变, in 1937年")
	want := []string{"卢沟", "沟桥", "桥事", "事变", "in", "1937", "年"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestNewTokenizer(t *testing.T) {
	tok, err := NewTokenizer("bigram")
	require.NoError(t, err)
	assert.IsType(t, BigramTokenizer{}, tok)

	_, err = NewTokenizer("whitespace")
	assert.Error(t, err)
}

func TestBM25Score(t *testing.T) {
	corpus := [][]string{
		{"a", "b", "a"},
		{"b", "c"},
		{"c", "d", "e", "f"},
	}
	idx := NewBM25(corpus, 1.5, 0.75)
	require.Equal(t, 3, idx.Len())

	avgdl := 3.0
	idfA := math.Log((3-1+0.5)/(1+0.5) + 1)
	idfB := math.Log((3-2+0.5)/(2+0.5) + 1)
	norm := 1 - 0.75 + 0.75*3/avgdl
	want := idfA*2*2.5/(2+1.5*norm) + idfB*1*2.5/(1+1.5*norm)

	assert.InDelta(t, want, idx.Score([]string{"a", "b"}, 0), 1e-9)
	assert.Zero(t, idx.Score([]string{"z"}, 0))
	assert.InDelta(t, 2*idx.Score([]string{"a"}, 0), idx.Score([]string{"a", "a"}, 0), 1e-9)
}

func TestOptionsFromConfigKeepsZeroB(t *testing.T) {
	opts := OptionsFromConfig(&config.RetrievalConfig{K1: 1.2, B: 0})
	assert.Equal(t, 1.2, opts.K1)
	assert.Zero(t, opts.B)

	opts = OptionsFromConfig(&config.RetrievalConfig{K1: 1.2, B: 3})
	assert.Equal(t, DefaultB, opts.B)
}

func TestBM25WithoutLengthNormalization(t *testing.T) {
	idx := NewBM25([][]string{{"a"}, {"a", "b", "c", "d"}}, 1.5, 0)
	assert.InDelta(t, idx.Score([]string{"a"}, 0), idx.Score([]string{"a"}, 1), 1e-9)
}

func TestBM25TopFiltersAndKeepsOrder(t *testing.T) {
	corpus := [][]string{
		{"x"},
		{"q", "y"},
		{"q", "y"},
		{"q", "q"},
	}
	idx := NewBM25(corpus, DefaultK1, DefaultB)

	top := idx.Top([]string{"q"}, 3, 0.2)
	require.Len(t, top, 3)
	assert.Equal(t, 3, top[0].Index)
	assert.Equal(t, []int{1, 2}, []int{top[1].Index, top[2].Index})

	assert.Empty(t, idx.Top([]string{"none"}, 3, 0.2))
	assert.Empty(t, NewBM25(nil, DefaultK1, DefaultB).Top([]string{"q"}, 3, 0))
}

func TestEngineSearchUnionIsNotDeduplicated(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t, map[string][]float32{"卢沟桥事变": {1, 0, 0}})
	repos := store.Repositories()

	seg1 := "卢沟桥事变爆发，全面抗战开始"
	seg2 := "张学良发动兵谏"
	require.NoError(t, repos.Segments.Append(ctx, tenant, []*entity.ArticleSegment{
		{ID: "s1", DocTitle: "doc", Seq: 0, RollingSummary: seg1, Embedding: []float32{1, 0, 0}},
		{ID: "s2", DocTitle: "doc", Seq: 1, RollingSummary: seg2, Embedding: []float32{0, 1, 0}},
	}))
	require.NoError(t, repos.Details.Append(ctx, tenant, []*entity.EventDetail{
		{Title: "卢沟桥事变", Field: entity.FieldSummary, Text: "日军进攻宛平", Embedding: []float32{1, 0, 0}},
		{Title: "卢沟桥事变", Field: entity.FieldTime, Text: "1937年7月7日", Embedding: []float32{1, 0, 0}},
	}))

	blocks, err := eng.SearchBlocks(ctx, tenant, "卢沟桥事变")
	require.NoError(t, err)

	want := []string{seg1, "事件总结：日军进攻宛平", seg1, seg2}
	if diff := cmp.Diff(want, blocks); diff != "" {
		t.Fatalf("blocks mismatch (-want +got):\n%s", diff)
	}

	text, err := eng.Search(ctx, tenant, "卢沟桥事变")
	require.NoError(t, err)
	assert.Equal(t, strings.Join(want, "\n\n"), text)
}

func TestEngineSearchEmpty(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	text, err := eng.Search(context.Background(), tenant, "任何问题")
	require.NoError(t, err)
	assert.Equal(t, NoResult, text)

	_, err = eng.Search(context.Background(), tenant, "  ")
	assert.Error(t, err)
}

func seedDetails(t *testing.T, store *memory.Store) {
	t.Helper()
	err := store.Repositories().Details.Append(context.Background(), tenant, []*entity.EventDetail{
		{Title: "九一八事变", Field: entity.FieldSummary, Text: "关东军炸毁南满铁路", Embedding: []float32{1, 0, 0}},
		{Title: "九一八事变", Field: entity.FieldCharacterThought, Text: "张学良：不抵抗；蒋介石：攘外必先安内", Embedding: []float32{1, 0, 0}},
		{Title: "九一八事变", Field: entity.FieldAuthorView, Text: "东北沦陷的开端", Embedding: []float32{1, 0, 0}},
		{Title: "九一八事变", Field: entity.FieldTime, Text: "1931年9月18日", Embedding: []float32{1, 0, 0}},
		{Title: "卢沟桥事变", Field: entity.FieldSummary, Text: "日军进攻宛平", Embedding: []float32{0, 1, 0}},
		{Title: "卢沟桥事变", Field: entity.FieldCharacterThought, Text: "宋哲元：守土有责", Embedding: []float32{0, 1, 0}},
		{Title: "卢沟桥事变", Field: entity.FieldAuthorView, Text: "全面抗战的起点", Embedding: []float32{0, 1, 0}},
		{Title: "卢沟桥事变", Field: entity.FieldTime, Text: "1937年7月7日", Embedding: []float32{0, 1, 0}},
	})
	require.NoError(t, err)
}

func TestSearchByTime(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedDetails(t, store)
	tools := NewTools(eng)

	out, err := tools.SearchByTime(context.Background(), tenant, []string{"1937"})
	require.NoError(t, err)
	assert.Equal(t, "**事件总结：**\n   日军进攻宛平\n\n**事件时间：**\n   1937年7月7日\n\n", out)

	out, err = tools.SearchByTime(context.Background(), tenant, []string{"1931", "1937"})
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "关东军"), strings.Index(out, "宛平"))

	out, err = tools.SearchByTime(context.Background(), tenant, []string{"1949"})
	require.NoError(t, err)
	assert.Equal(t, NoResult, out)
}

func TestSearchCharacterThought(t *testing.T) {
	eng, store := newTestEngine(t, map[string][]float32{"九一八事变": {1, 0, 0}})
	seedDetails(t, store)
	tools := NewTools(eng)
	ctx := context.Background()

	t.Run("by event", func(t *testing.T) {
		out, err := tools.SearchCharacterThought(ctx, tenant, []string{"九一八事变"}, []string{"张学良"})
		require.NoError(t, err)
		assert.Equal(t, "张学良：不抵抗；蒋介石：攘外必先安内", out)
	})

	t.Run("scan fragments", func(t *testing.T) {
		out, err := tools.SearchCharacterThought(ctx, tenant, nil, []string{"蒋介石", "宋哲元"})
		require.NoError(t, err)
		assert.Equal(t, "在事件\"九一八事变\"中，蒋介石：攘外必先安内；\n\n在事件\"卢沟桥事变\"中，宋哲元：守土有责；", out)
	})

	t.Run("no match", func(t *testing.T) {
		out, err := tools.SearchCharacterThought(ctx, tenant, nil, []string{"溥仪"})
		require.NoError(t, err)
		assert.Equal(t, NoResult, out)
	})
}

func TestSearchAuthorView(t *testing.T) {
	eng, store := newTestEngine(t, map[string][]float32{"卢沟桥事变": {0, 1, 0}})
	seedDetails(t, store)
	tools := NewTools(eng)

	out, err := tools.SearchAuthorView(context.Background(), tenant, []string{"卢沟桥事变"})
	require.NoError(t, err)
	parts := strings.Split(out, "\n\n")
	require.Len(t, parts, 2)
	assert.Equal(t, "事件\"卢沟桥事变\"中，作者的观点是：全面抗战的起点", parts[0])
}

func TestBoundToolsDispatchByKind(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedDetails(t, store)
	bound := NewTools(eng).Bind(tenant)
	require.Len(t, bound, len(ToolKinds))

	ctx := context.Background()
	for i, tl := range bound {
		info, err := tl.Info(ctx)
		require.NoError(t, err)
		kind, ok := ParseToolKind(info.Name)
		require.True(t, ok, info.Name)
		assert.Equal(t, ToolKinds[i], kind)
	}

	out, err := bound[1].InvokableRun(ctx, `{"time_list":["1931"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, "1931年9月18日")

	_, err = bound[1].InvokableRun(ctx, `{"time_list":`)
	assert.Error(t, err)

	_, ok := ParseToolKind("search_everything")
	assert.False(t, ok)
}
