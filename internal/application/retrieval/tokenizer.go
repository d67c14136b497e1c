package retrieval

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
)

// Tokenizer 将文本切分为关键词检索使用的词项
type Tokenizer interface {
	Tokenize(text string) []string
}

const (
	TokenizerGse    = "gse"
	TokenizerBigram = "bigram"
)

// NewTokenizer 按名称创建分词器，空名称使用 gse
func NewTokenizer(name string) (Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TokenizerGse:
		return NewGseTokenizer()
	case TokenizerBigram:
		return BigramTokenizer{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer: %s", name)
	}
}

// GseTokenizer 基于 gse 词典的中文分词
type GseTokenizer struct {
	mu  sync.Mutex
	seg gse.Segmenter
}

var (
	gseOnce   sync.Once
	gseShared *GseTokenizer
	gseErr    error
)

// NewGseTokenizer 返回进程内共享的 gse 分词器，词典只加载一次
func NewGseTokenizer() (*GseTokenizer, error) {
	gseOnce.Do(func() {
		t := &GseTokenizer{}
		if err := t.seg.LoadDictEmbed(); err != nil {
			gseErr = fmt.Errorf("load gse dictionary: %w", err)
			return
		}
		gseShared = t
	})
	return gseShared, gseErr
}

func (t *GseTokenizer) Tokenize(text string) []string {
	t.mu.Lock()
	words := t.seg.Cut(text, true)
	t.mu.Unlock()

	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || !hasWordRune(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// BigramTokenizer 汉字按相邻二元组切分，字母数字按连续串切分。
// 不依赖词典，适用于测试与词典不可用的环境。
type BigramTokenizer struct{}

func (BigramTokenizer) Tokenize(text string) []string {
	var (
		out  []string
		han  []rune
		word []rune
	)
	flushHan := func() {
		switch len(han) {
		case 0:
		case 1:
			out = append(out, string(han))
		default:
			for i := 0; i+1 < len(han); i++ {
				out = append(out, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}
	flushWord := func() {
		if len(word) > 0 {
			out = append(out, strings.ToLower(string(word)))
			word = word[:0]
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word = append(word, r)
		default:
			flushHan()
			flushWord()
		}
	}
	flushHan()
	flushWord()
	return out
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
