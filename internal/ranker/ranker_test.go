package ranker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj28843/docs-mcp-server/internal/docstore"
	"github.com/pankaj28843/docs-mcp-server/internal/index"
	"github.com/pankaj28843/docs-mcp-server/internal/tokenizer"
)

func snapshotOf(t testing.TB, texts ...string) *index.Snapshot {
	t.Helper()
	docs := make([]*docstore.Document, len(texts))
	for i, text := range texts {
		docs[i] = docstore.NewDocument("t", fmt.Sprintf("d%d", i+1), "", text, []byte(text), time.Unix(0, 0))
	}
	store, err := docstore.NewStore("t", docs)
	require.NoError(t, err)
	snap, err := index.Build(context.Background(), store, 1)
	require.NoError(t, err)
	return snap
}

func id(uri string) string { return docstore.DocumentID("t", uri) }

func TestScoreMatchesReferenceFormula(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(t, "fox jumps", "fox runs fast", "lazy dog sleeps")
	query := tokenizer.Terms("fox")

	// N=3, df=2, avgdl=8/3.
	idf := math.Log((3-2+0.5)/(2+0.5) + 1)
	avgdl := 8.0 / 3.0
	want1 := idf * 2.2 / (1 + 1.2*(0.25+0.75*2/avgdl))
	want2 := idf * 2.2 / (1 + 1.2*(0.25+0.75*3/avgdl))

	assert.InDelta(t, 0.4700036, idf, 1e-6)
	assert.InDelta(t, want1, Score(query, id("d1"), snap), 1e-9)
	assert.InDelta(t, want2, Score(query, id("d2"), snap), 1e-9)
	assert.InDelta(t, 0.523548, want1, 1e-5)
	assert.InDelta(t, 0.447138, want2, 1e-5)
	assert.Zero(t, Score(query, id("d3"), snap))

	got := ScoreAll(snap, query, nil)
	slices.SortFunc(got, func(a, b ScoredDoc) int {
		if Less(a, b) {
			return -1
		}
		return 1
	})
	require.Len(t, got, 2)
	assert.Equal(t, id("d1"), got[0].DocID)
	assert.Equal(t, id("d2"), got[1].DocID)
	assert.Greater(t, got[1].Score, Score(query, id("d3"), snap))
}

func TestIDFFloor(t *testing.T) {
	t.Parallel()

	assert.Zero(t, IDF(0, 0))
	assert.Zero(t, IDF(3, 0))
	for n := 1; n < 200; n++ {
		for df := 1; df <= n; df++ {
			assert.GreaterOrEqual(t, IDF(n, df), 0.0)
		}
	}
}

func TestScoresNeverNegative(t *testing.T) {
	t.Parallel()

	vocab := []string{"alpha", "beta", "gamma", "delta", "common"}
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		texts := make([]string, 1+r.Intn(8))
		for i := range texts {
			text := "common"
			for j := 0; j < r.Intn(6); j++ {
				text += " " + vocab[r.Intn(len(vocab))]
			}
			texts[i] = text
		}
		snap := snapshotOf(t, texts...)
		for _, sd := range ScoreAll(snap, []string{"common", "alpha", "gamma", "missing"}, nil) {
			assert.GreaterOrEqual(t, sd.Score, 0.0)
		}
	}
}

func TestDuplicateQueryTermsCountOnce(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(t, "fox jumps", "fox runs fast", "lazy dog sleeps")
	assert.Equal(t, Score([]string{"fox"}, id("d1"), snap), Score([]string{"fox", "fox"}, id("d1"), snap))
}

func TestScoreAllRespectsKeep(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(t, "fox jumps", "fox runs fast")
	got := ScoreAll(snap, []string{"fox"}, func(docID string) bool { return docID == id("d2") })
	require.Len(t, got, 1)
	assert.Equal(t, id("d2"), got[0].DocID)
}

func TestLessBreaksTiesByID(t *testing.T) {
	t.Parallel()

	assert.True(t, Less(ScoredDoc{DocID: "a", Score: 1}, ScoredDoc{DocID: "b", Score: 1}))
	assert.True(t, Less(ScoredDoc{DocID: "z", Score: 2}, ScoredDoc{DocID: "a", Score: 1}))
}

func BenchmarkScoreAll(b *testing.B) {
	texts := make([]string, 500)
	for i := range texts {
		texts[i] = fmt.Sprintf("search engine document %d ranking bm25 posting list term %d", i, i%17)
	}
	snap := snapshotOf(b, texts...)
	query := tokenizer.Terms("ranking posting engine")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ScoreAll(snap, query, nil)
	}
}
