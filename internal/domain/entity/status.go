package entity

import (
	"strconv"
	"strings"
	"time"
)

// 入库与问答过程的状态标签
const (
	StatusAnalyzing         = "正在分析…"
	StatusExtractingEvents  = "正在提取事件…"
	StatusSummarizing       = "正在总结…"
	StatusResolvingRelation = "正在分析事件关系…"
	StatusDetailing         = "正在生成事件详情…"
	StatusDone              = "完成"
	statusErrorPrefix       = "出错: "
)

// StatusError 错误状态标签
func StatusError(msg string) string {
	return statusErrorPrefix + msg
}

// StatusThinking 推理第 n 步
func StatusThinking(step int) string {
	return "正在思考第 " + strconv.Itoa(step) + " 步…"
}

// StatusSearching 正在检索子问题
func StatusSearching(query string) string {
	return "正在检索: " + query
}

// Status 租户当前状态
type Status struct {
	TenantID  string    `json:"tenant_id"`
	Label     string    `json:"label"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal 是否为终态
func (s *Status) Terminal() bool {
	return IsTerminalStatus(s.Label)
}

// IsTerminalStatus 判断标签是否为终态
func IsTerminalStatus(label string) bool {
	return label == StatusDone || strings.HasPrefix(label, statusErrorPrefix)
}
