package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// SplitChunks 按字符窗口切分文本，相邻分块重叠 overlapRunes 个字符。
// 分块顺序即文档顺序。
func SplitChunks(s string, maxRunes int, overlapRunes int) []string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil
	}
	if maxRunes <= 0 {
		return []string{raw}
	}
	if overlapRunes < 0 {
		overlapRunes = 0
	}
	runes := []rune(raw)
	if len(runes) <= maxRunes {
		return []string{raw}
	}
	step := maxRunes - overlapRunes
	if step <= 0 {
		step = maxRunes
	}

	out := make([]string, 0, (len(runes)/step)+1)
	for start := 0; start < len(runes); start += step {
		end := start + maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end >= len(runes) {
			break
		}
	}
	return out
}

// SegmentID 取分块前 prefixRunes 个字符的 MD5 作为内容标识
func SegmentID(chunk string, prefixRunes int) string {
	if prefixRunes > 0 {
		if r := []rune(chunk); len(r) > prefixRunes {
			chunk = string(r[:prefixRunes])
		}
	}
	sum := md5.Sum([]byte(chunk))
	return hex.EncodeToString(sum[:])
}
