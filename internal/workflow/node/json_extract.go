package node

import (
	"strings"

	"github.com/tidwall/gjson"

	apperrors "timeline-rag-api/pkg/errors"
)

// ExtractJSONObject 从模型输出中截取第一个 JSON 对象。
// 模型可能在 JSON 前后夹杂 markdown 代码块或说明文字。
func ExtractJSONObject(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return raw
	}
	raw = stripCodeFence(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	return raw
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ParseJSONObject 解析模型输出为 JSON 对象，失败时返回 CodeStructuredOutput
func ParseJSONObject(output string) (gjson.Result, error) {
	raw := ExtractJSONObject(output)
	if raw == "" || !gjson.Valid(raw) {
		return gjson.Result{}, apperrors.ErrStructuredOutput.WithDetail(TruncateByRunes(output, 200))
	}
	res := gjson.Parse(raw)
	if !res.IsObject() {
		return gjson.Result{}, apperrors.ErrStructuredOutput.WithDetail("expected json object")
	}
	return res, nil
}

// RequireArray 读取必需的数组字段
func RequireArray(obj gjson.Result, path string) ([]gjson.Result, error) {
	v := obj.Get(path)
	if !v.Exists() || !v.IsArray() {
		return nil, apperrors.ErrStructuredOutput.WithDetail("missing array field: " + path)
	}
	return v.Array(), nil
}

// FlattenText 将字符串、数组或对象统一为一段文本。
// 对象按 "键：值" 展开，各项之间用 "；" 连接。
func FlattenText(v gjson.Result) string {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return ""
	case v.IsObject():
		var parts []string
		v.ForEach(func(key, value gjson.Result) bool {
			text := strings.TrimSpace(FlattenText(value))
			if text == "" {
				return true
			}
			parts = append(parts, key.String()+"："+strings.TrimSuffix(text, "；"))
			return true
		})
		return strings.Join(parts, "；")
	case v.IsArray():
		var parts []string
		for _, item := range v.Array() {
			if text := strings.TrimSpace(FlattenText(item)); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "；")
	default:
		return strings.TrimSpace(v.String())
	}
}
