package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
)

// ToolKind 检索工具种类
type ToolKind int

const (
	ToolGeneral ToolKind = iota + 1
	ToolByTime
	ToolCharacterThought
	ToolAuthorView
)

// ToolKinds 暴露给模型的全部工具，顺序即声明顺序
var ToolKinds = []ToolKind{ToolGeneral, ToolByTime, ToolCharacterThought, ToolAuthorView}

func (k ToolKind) String() string {
	switch k {
	case ToolGeneral:
		return "search_query"
	case ToolByTime:
		return "search_by_time"
	case ToolCharacterThought:
		return "search_character_thought"
	case ToolAuthorView:
		return "search_author_view"
	default:
		return fmt.Sprintf("tool(%d)", int(k))
	}
}

// ParseToolKind 按工具名解析种类
func ParseToolKind(name string) (ToolKind, bool) {
	for _, k := range ToolKinds {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// ToolArgs 各工具参数的并集
type ToolArgs struct {
	Query         string   `json:"query,omitempty"`
	TimeList      []string `json:"time_list,omitempty"`
	CharacterList []string `json:"character_list,omitempty"`
	EventList     []string `json:"event_list,omitempty"`
}

// Tools 按字段划分的四个检索操作
type Tools struct {
	engine *Engine
	topK   int
}

func NewTools(engine *Engine) *Tools {
	topK := engine.opts.ToolTopK
	if topK <= 0 {
		topK = 10
	}
	return &Tools{engine: engine, topK: topK}
}

// Run 执行指定工具
func (t *Tools) Run(ctx context.Context, tenantID string, kind ToolKind, args ToolArgs) (string, error) {
	switch kind {
	case ToolGeneral:
		return t.SearchGeneral(ctx, tenantID, args.Query)
	case ToolByTime:
		return t.SearchByTime(ctx, tenantID, args.TimeList)
	case ToolCharacterThought:
		return t.SearchCharacterThought(ctx, tenantID, args.EventList, args.CharacterList)
	case ToolAuthorView:
		return t.SearchAuthorView(ctx, tenantID, args.EventList)
	default:
		return "", fmt.Errorf("unknown tool kind: %d", int(kind))
	}
}

// SearchGeneral 混合检索
func (t *Tools) SearchGeneral(ctx context.Context, tenantID, query string) (string, error) {
	return t.engine.Search(ctx, tenantID, query)
}

// SearchByTime 按时间片段匹配 time 行，再输出对应事件的时间与总结
func (t *Tools) SearchByTime(ctx context.Context, tenantID string, timeList []string) (string, error) {
	var titles []string
	seen := make(map[string]struct{})
	for _, tok := range timeList {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		rows, err := t.engine.details.Scan(ctx, tenantID, repository.DetailFilter{
			Fields:       []entity.DetailField{entity.FieldTime},
			TextContains: tok,
		})
		if err != nil {
			return "", err
		}
		for _, r := range rows {
			if _, ok := seen[r.Title]; ok {
				continue
			}
			seen[r.Title] = struct{}{}
			titles = append(titles, r.Title)
		}
	}

	var sb strings.Builder
	for _, title := range titles {
		rows, err := t.engine.details.Scan(ctx, tenantID, repository.DetailFilter{
			Fields: []entity.DetailField{entity.FieldTime, entity.FieldSummary},
			Titles: []string{title},
		})
		if err != nil {
			return "", err
		}
		for _, r := range rows {
			switch r.Field {
			case entity.FieldTime:
				fmt.Fprintf(&sb, "**事件时间：**\n   %s\n\n", r.Text)
			case entity.FieldSummary:
				fmt.Fprintf(&sb, "**事件总结：**\n   %s\n\n", r.Text)
			}
		}
	}
	if sb.Len() == 0 {
		return NoResult, nil
	}
	return sb.String(), nil
}

// SearchCharacterThought 检索人物想法。
// 给定事件时按事件名向量检索 character_thought 行，保留提到任一人物的行；
// 未给定事件时扫描全部 character_thought 行，按 "；" 切分后保留提到人物的片段并按事件归组。
func (t *Tools) SearchCharacterThought(ctx context.Context, tenantID string, events, characters []string) (string, error) {
	characters = compact(characters)
	events = compact(events)
	filter := repository.DetailFilter{Fields: []entity.DetailField{entity.FieldCharacterThought}}

	var res []string
	if len(events) > 0 {
		for _, ev := range events {
			hits, err := t.engine.VectorSearch(ctx, tenantID, ev, filter, t.topK)
			if err != nil {
				return "", err
			}
			for _, h := range hits {
				if mentionsAny(h.Detail.Text, characters) {
					res = append(res, h.Detail.Text)
				}
			}
		}
	} else {
		rows, err := t.engine.details.Scan(ctx, tenantID, filter)
		if err != nil {
			return "", err
		}
		for _, r := range rows {
			if block := thoughtFragments(r.Title, r.Text, characters); block != "" {
				res = append(res, block)
			}
		}
	}
	if len(res) == 0 {
		return NoResult, nil
	}
	return strings.Join(res, "\n\n"), nil
}

func thoughtFragments(title, text string, characters []string) string {
	var sb strings.Builder
	for _, frag := range strings.Split(text, "；") {
		frag = strings.TrimSpace(frag)
		if frag == "" || !mentionsAny(frag, characters) {
			continue
		}
		if sb.Len() == 0 {
			fmt.Fprintf(&sb, "在事件\"%s\"中，", title)
		}
		sb.WriteString(frag)
		sb.WriteString("；")
	}
	return sb.String()
}

// SearchAuthorView 按事件名向量检索 author_view 行
func (t *Tools) SearchAuthorView(ctx context.Context, tenantID string, events []string) (string, error) {
	filter := repository.DetailFilter{Fields: []entity.DetailField{entity.FieldAuthorView}}

	var res []string
	for _, ev := range compact(events) {
		hits, err := t.engine.VectorSearch(ctx, tenantID, ev, filter, t.topK)
		if err != nil {
			return "", err
		}
		for _, h := range hits {
			res = append(res, fmt.Sprintf("事件\"%s\"中，作者的观点是：%s", h.Detail.Title, h.Detail.Text))
		}
	}
	if len(res) == 0 {
		return NoResult, nil
	}
	return strings.Join(res, "\n\n"), nil
}

// Bind 返回绑定到租户的 eino 工具，供工具选择 Agent 使用
func (t *Tools) Bind(tenantID string) []tool.InvokableTool {
	out := make([]tool.InvokableTool, 0, len(ToolKinds))
	for _, k := range ToolKinds {
		out = append(out, &searchTool{kind: k, tools: t, tenantID: tenantID})
	}
	return out
}

type searchTool struct {
	kind     ToolKind
	tools    *Tools
	tenantID string
}

func (s *searchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return ToolInfo(s.kind), nil
}

func (s *searchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args ToolArgs
	if strings.TrimSpace(argumentsInJSON) != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", s.kind, err)
		}
	}
	return s.tools.Run(ctx, s.tenantID, s.kind, args)
}

// ToolInfo 工具声明
func ToolInfo(kind ToolKind) *schema.ToolInfo {
	stringList := func(desc string) *schema.ParameterInfo {
		return &schema.ParameterInfo{
			Type:     schema.Array,
			Desc:     desc,
			ElemInfo: &schema.ParameterInfo{Type: schema.String},
			Required: true,
		}
	}

	info := &schema.ToolInfo{Name: kind.String()}
	switch kind {
	case ToolGeneral:
		info.Desc = "当用户希望检索某个历史事件信息时，使用该工具"
		info.ParamsOneOf = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "用户问题", Required: true},
		})
	case ToolByTime:
		info.Desc = "当用户希望检索某个时间点或者时间范围的历史事件信息时，使用该工具"
		info.ParamsOneOf = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"time_list": stringList("时间列表，例如['1927','1928']"),
		})
	case ToolCharacterThought:
		info.Desc = "当用户希望检索某个历史人物的思想时，或历史人物对某个事件的看法时，使用该工具"
		info.ParamsOneOf = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"character_list": stringList("人物列表 如:['人物A','人物B']"),
			"event_list":     stringList("事件列表 如:['事件A','事件B']"),
		})
	case ToolAuthorView:
		info.Desc = "当用户希望获得关于某件事的观点时，使用该工具"
		info.ParamsOneOf = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"event_list": stringList("事件列表 如:['事件A','事件B']"),
		})
	}
	return info
}

func mentionsAny(text string, names []string) bool {
	for _, n := range names {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func compact(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
