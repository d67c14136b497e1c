package prompt

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptTimelineExtractV1 PromptID = "timeline_extract_v1"
	PromptRollingSummaryV1  PromptID = "rolling_summary_v1"
	PromptRelationsV1       PromptID = "relations_v1"
	PromptEventDetailV1     PromptID = "event_detail_v1"
	PromptToolSelectV1      PromptID = "tool_select_v1"
	PromptReasoningV1       PromptID = "reasoning_v1"
)

// 检索标记，由推理提示词注入
const (
	BeginSearchQuery  = "<|begin_search_query|>"
	EndSearchQuery    = "<|end_search_query|>"
	BeginSearchResult = "<|begin_search_result|>"
	EndSearchResult   = "<|end_search_result|>"
)

type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if tpl, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	systemPath, userPath, err := resolvePromptFiles(id)
	if err != nil {
		return nil, err
	}
	user, err := readEmbeddedText(userPath)
	if err != nil {
		return nil, err
	}

	templates := make([]schema.MessagesTemplate, 0, 2)
	if systemPath != "" {
		system, err := readEmbeddedText(systemPath)
		if err != nil {
			return nil, err
		}
		templates = append(templates, schema.SystemMessage(system))
	}
	templates = append(templates, schema.UserMessage(user))

	tpl := einoprompt.FromMessages(schema.FString, templates...)
	r.cache[id] = tpl
	return tpl, nil
}

// Render 使用变量渲染指定提示词
func (r *Registry) Render(ctx context.Context, id PromptID, vars map[string]any) ([]*schema.Message, error) {
	tpl, err := r.ChatTemplate(id)
	if err != nil {
		return nil, err
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("render prompt %s: %w", id, err)
	}
	return msgs, nil
}

// 只有用户消息的提示词返回空的 systemFile
func resolvePromptFiles(id PromptID) (systemFile string, userFile string, err error) {
	switch id {
	case PromptTimelineExtractV1:
		return "templates/timeline_extract_v1.system.txt", "templates/timeline_extract_v1.user.txt", nil
	case PromptRollingSummaryV1:
		return "", "templates/rolling_summary_v1.user.txt", nil
	case PromptRelationsV1:
		return "templates/relations_v1.system.txt", "templates/relations_v1.user.txt", nil
	case PromptEventDetailV1:
		return "templates/event_detail_v1.system.txt", "templates/event_detail_v1.user.txt", nil
	case PromptToolSelectV1:
		return "", "templates/tool_select_v1.user.txt", nil
	case PromptReasoningV1:
		return "templates/reasoning_v1.system.txt", "templates/reasoning_v1.user.txt", nil
	default:
		return "", "", fmt.Errorf("unknown prompt id: %s", id)
	}
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
