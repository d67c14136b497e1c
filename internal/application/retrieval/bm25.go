package retrieval

import (
	"math"
	"sort"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// BM25 关键词打分索引，构建后只读
type BM25 struct {
	k1, b   float64
	docs    []map[string]int
	lengths []int
	avgdl   float64
	idf     map[string]float64
}

// NewBM25 对已分词的语料构建索引
func NewBM25(corpus [][]string, k1, b float64) *BM25 {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b < 0 || b > 1 {
		b = DefaultB
	}
	idx := &BM25{
		k1:      k1,
		b:       b,
		docs:    make([]map[string]int, len(corpus)),
		lengths: make([]int, len(corpus)),
		idf:     make(map[string]float64),
	}

	df := make(map[string]int)
	total := 0
	for i, doc := range corpus {
		tf := make(map[string]int, len(doc))
		for _, term := range doc {
			tf[term]++
		}
		for term := range tf {
			df[term]++
		}
		idx.docs[i] = tf
		idx.lengths[i] = len(doc)
		total += len(doc)
	}
	if len(corpus) > 0 {
		idx.avgdl = float64(total) / float64(len(corpus))
	}

	n := float64(len(corpus))
	for term, freq := range df {
		f := float64(freq)
		idx.idf[term] = math.Log((n-f+0.5)/(f+0.5) + 1)
	}
	return idx
}

// Len 文档数
func (x *BM25) Len() int { return len(x.docs) }

// Score 查询对单篇文档的得分；查询词重复出现时重复计分
func (x *BM25) Score(query []string, doc int) float64 {
	if doc < 0 || doc >= len(x.docs) || x.avgdl == 0 {
		return 0
	}
	tfs := x.docs[doc]
	norm := 1 - x.b + x.b*float64(x.lengths[doc])/x.avgdl

	score := 0.0
	for _, term := range query {
		tf, ok := tfs[term]
		if !ok {
			continue
		}
		f := float64(tf)
		score += x.idf[term] * f * (x.k1 + 1) / (f + x.k1*norm)
	}
	return score
}

// Scores 查询对全部文档的得分，下标与语料一致
func (x *BM25) Scores(query []string) []float64 {
	out := make([]float64, len(x.docs))
	for i := range x.docs {
		out[i] = x.Score(query, i)
	}
	return out
}

// ScoredDoc 文档下标与得分
type ScoredDoc struct {
	Index int
	Score float64
}

// Top 按得分降序取前 n 个得分大于 minScore 的文档；同分保持语料顺序
func (x *BM25) Top(query []string, n int, minScore float64) []ScoredDoc {
	scores := x.Scores(query)
	ranked := make([]ScoredDoc, len(scores))
	for i, s := range scores {
		ranked[i] = ScoredDoc{Index: i, Score: s}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}

	out := ranked[:0]
	for _, d := range ranked {
		if d.Score > minScore {
			out = append(out, d)
		}
	}
	return out
}
