// Package agent 问答 Agent：工具选择子 Agent 与多步推理 Agent
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"timeline-rag-api/internal/application/retrieval"
	einoobs "timeline-rag-api/internal/observability/eino"
	"timeline-rag-api/internal/workflow/port"
	"timeline-rag-api/internal/workflow/prompt"
	"timeline-rag-api/pkg/logger"
)

const (
	workflowToolSelect = "agent.tool_select"
	workflowToolAnswer = "agent.tool_answer"
	workflowReasoning  = "agent.reasoning"
)

// SubAgentErrorPrefix 子问题处理失败时回答的前缀
const SubAgentErrorPrefix = "处理问题时发生错误: "

// SubAgent 工具选择子 Agent：一次带工具的调用选出至多一个检索工具，
// 执行后再调用一次得到该子问题的回答；未选工具时第一次的回复即为回答。
type SubAgent struct {
	gen      port.TextGenerator
	tools    *retrieval.Tools
	prompts  *prompt.Registry
	provider string

	toolsNodeOnce sync.Once
	toolsNode     *compose.ToolsNode
	toolsNodeErr  error
}

func NewSubAgent(gen port.TextGenerator, tools *retrieval.Tools, prompts *prompt.Registry, provider string) *SubAgent {
	return &SubAgent{gen: gen, tools: tools, prompts: prompts, provider: provider}
}

// Answer 回答一个子问题；失败时返回错误说明文本而不是错误
func (a *SubAgent) Answer(ctx context.Context, tenantID, question string) string {
	text, err := a.answer(ctx, tenantID, question)
	if err != nil {
		logger.Warn(ctx, "sub-query failed", "question", question, "error", err.Error())
		return SubAgentErrorPrefix + err.Error()
	}
	return text
}

func (a *SubAgent) answer(ctx context.Context, tenantID, question string) (string, error) {
	msgs, err := a.prompts.Render(ctx, prompt.PromptToolSelectV1, map[string]any{"question": question})
	if err != nil {
		return "", err
	}

	bound := a.tools.Bind(tenantID)
	tools := make([]tool.BaseTool, 0, len(bound))
	infos := make([]*schema.ToolInfo, 0, len(bound))
	for _, t := range bound {
		info, err := t.Info(ctx)
		if err != nil {
			return "", err
		}
		tools = append(tools, t)
		infos = append(infos, info)
	}

	first, err := a.gen.Generate(ctx, &port.GenerateRequest{
		Workflow:           workflowToolSelect,
		Provider:           a.provider,
		Messages:           msgs,
		Tools:              infos,
		AllowParallelTools: false,
	})
	if err != nil {
		return "", err
	}
	if len(first.ToolCalls) == 0 {
		return first.Content, nil
	}

	// 只执行第一个工具调用
	assistant := *first
	assistant.ToolCalls = first.ToolCalls[:1]
	logger.Debug(ctx, "tool selected", "tool", assistant.ToolCalls[0].Function.Name)

	toolsNode, err := a.getToolsNode()
	if err != nil {
		return "", err
	}
	toolCtx := einoobs.WithWorkflowProvider(ctx, workflowToolSelect, a.provider)
	toolMsgs, err := toolsNode.Invoke(toolCtx, &assistant, compose.WithToolList(tools...))
	if err != nil {
		return "", err
	}

	conversation := make([]*schema.Message, 0, len(msgs)+1+len(toolMsgs))
	conversation = append(conversation, msgs...)
	conversation = append(conversation, &assistant)
	conversation = append(conversation, toolMsgs...)

	second, err := a.gen.Generate(ctx, &port.GenerateRequest{
		Workflow: workflowToolAnswer,
		Provider: a.provider,
		Messages: conversation,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(second.Content), nil
}

func (a *SubAgent) getToolsNode() (*compose.ToolsNode, error) {
	a.toolsNodeOnce.Do(func() {
		a.toolsNode, a.toolsNodeErr = compose.NewToolNode(context.Background(), &compose.ToolsNodeConfig{
			// 工具与租户绑定，调用时通过 WithToolList 传入
			Tools:               nil,
			ExecuteSequentially: true,
			UnknownToolsHandler: func(_ context.Context, name, _ string) (string, error) {
				b, _ := json.Marshal(map[string]any{
					"error": fmt.Sprintf("unknown tool: %s", strings.TrimSpace(name)),
				})
				return string(b), nil
			},
		})
	})
	return a.toolsNode, a.toolsNodeErr
}
