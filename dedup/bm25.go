// Package dedup filters near-duplicate and advertising posts before
// publication and discussion seeding. It combines a BM25 sliding-window
// similarity check, a keyword/pattern ad heuristic, and a normalized
// content-fingerprint ring.
package dedup

import (
	"math"
	"regexp"
	"strings"
)

const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25

	// DefaultThreshold is the BM25 score above which a candidate counts
	// as a repeat of the recent corpus.
	DefaultThreshold = 8.5
)

var wordRe = regexp.MustCompile(`[A-Za-zА-Яа-яЁё]+`)

// Tokenize lowercases text, extracts letter runs, and drops Russian
// stopwords and tokens of 3 characters or less.
func Tokenize(text string) []string {
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopwordsRU[w]; stop {
			continue
		}
		if len([]rune(w)) <= 3 {
			continue
		}
		out = append(out, w)
	}
	return out
}

// bm25Okapi scores a tokenized query against a tokenized corpus.
type bm25Okapi struct {
	docFreqs []map[string]int
	docLens  []float64
	avgLen   float64
	idf      map[string]float64
}

func newBM25Okapi(corpus [][]string) *bm25Okapi {
	m := &bm25Okapi{
		docFreqs: make([]map[string]int, len(corpus)),
		docLens:  make([]float64, len(corpus)),
		idf:      map[string]float64{},
	}
	nd := map[string]int{}
	var totalLen float64
	for i, doc := range corpus {
		freq := map[string]int{}
		for _, w := range doc {
			freq[w]++
		}
		m.docFreqs[i] = freq
		m.docLens[i] = float64(len(doc))
		totalLen += float64(len(doc))
		for w := range freq {
			nd[w]++
		}
	}
	if len(corpus) > 0 {
		m.avgLen = totalLen / float64(len(corpus))
	}

	// Okapi idf can go negative for very common words; those are floored
	// to epsilon times the average idf.
	n := float64(len(corpus))
	var idfSum float64
	var negative []string
	for w, df := range nd {
		idf := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		m.idf[w] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, w)
		}
	}
	if len(m.idf) > 0 {
		eps := bm25Epsilon * idfSum / float64(len(m.idf))
		for _, w := range negative {
			m.idf[w] = eps
		}
	}
	return m
}

func (m *bm25Okapi) score(query []string, doc int) float64 {
	var score float64
	dl := m.docLens[doc]
	for _, w := range query {
		f := float64(m.docFreqs[doc][w])
		if f == 0 {
			continue
		}
		score += m.idf[w] * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*dl/m.avgLen))
	}
	return score
}

// SimilarBM25 reports whether text is a near-repeat of any entry in corpus.
// The candidate itself (exact trimmed match) is excluded from the corpus
// first so a just-stored post never self-matches. Returns the max score
// for logging.
func SimilarBM25(text string, corpus []string, threshold float64) (bool, float64) {
	if len(corpus) == 0 {
		return false, 0
	}
	stripped := strings.TrimSpace(text)
	var docs [][]string
	for _, c := range corpus {
		if strings.TrimSpace(c) == stripped {
			continue
		}
		if tokens := Tokenize(c); len(tokens) > 0 {
			docs = append(docs, tokens)
		}
	}
	if len(docs) == 0 {
		return false, 0
	}
	query := Tokenize(text)
	if len(query) == 0 {
		return false, 0
	}
	model := newBM25Okapi(docs)
	var maxScore float64
	for i := range docs {
		if s := model.score(query, i); s > maxScore {
			maxScore = s
		}
	}
	return maxScore >= threshold, maxScore
}
