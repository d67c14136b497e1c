package node

import (
	"strings"
	"unicode/utf8"
)

func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// TimeBucket 取时间文本中 "年" 之前的部分作为时间桶
func TimeBucket(t string) string {
	t = strings.TrimSpace(t)
	if i := strings.Index(t, "年"); i >= 0 {
		return strings.TrimSpace(t[:i])
	}
	return t
}
