// Package ranker implements Okapi BM25 over an index snapshot. The IDF term
// is floored at zero so common terms in small corpora never push a score
// negative.
package ranker

import (
	"math"

	"github.com/pankaj28843/docs-mcp-server/internal/index"
)

// Tunables are process-wide constants.
const (
	K1 = 1.2
	B  = 0.75
)

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Less orders by score descending, then document id ascending.
func Less(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// IDF returns max(0, ln((n-df+0.5)/(df+0.5)+1)).
func IDF(n, df int) float64 {
	if n <= 0 || df <= 0 {
		return 0
	}
	idf := math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
	return math.Max(0, idf)
}

// TermScore is one term's contribution for a document of length docLen
// containing the term tf times.
func TermScore(idf float64, tf, docLen int, avgDocLength float64) float64 {
	if tf <= 0 || avgDocLength <= 0 || idf <= 0 {
		return 0
	}
	f := float64(tf)
	denominator := f + K1*(1-B+B*float64(docLen)/avgDocLength)
	return idf * (f * (K1 + 1)) / denominator
}

// Score computes the BM25 score of docID for terms against snap. Terms missing
// from the index contribute nothing; repeated query terms count once.
func Score(terms []string, docID string, snap *index.Snapshot) float64 {
	n := snap.DocCount()
	avgdl := snap.AvgDocLength()
	docLen := snap.DocLength(docID)
	var score float64
	for _, term := range Unique(terms) {
		postings := snap.Postings(term)
		p, ok := postings.Find(docID)
		if !ok {
			continue
		}
		score += TermScore(IDF(n, len(postings)), p.Frequency, docLen, avgdl)
	}
	return score
}

// ScoreAll accumulates scores for every document that contains at least one
// of terms and passes keep (nil keeps all). Results are unordered.
func ScoreAll(snap *index.Snapshot, terms []string, keep func(docID string) bool) []ScoredDoc {
	n := snap.DocCount()
	avgdl := snap.AvgDocLength()
	scores := make(map[string]float64)
	for _, term := range Unique(terms) {
		postings := snap.Postings(term)
		idf := IDF(n, len(postings))
		for _, p := range postings {
			if keep != nil && !keep(p.DocID) {
				continue
			}
			scores[p.DocID] += TermScore(idf, p.Frequency, snap.DocLength(p.DocID), avgdl)
		}
	}
	out := make([]ScoredDoc, 0, len(scores))
	for id, s := range scores {
		out = append(out, ScoredDoc{DocID: id, Score: s})
	}
	return out
}

// Unique drops repeated terms, keeping first-occurrence order.
func Unique(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
