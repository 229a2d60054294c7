package search

import (
	"container/heap"

	"github.com/pankaj28843/docs-mcp-server/internal/ranker"
)

// TopK returns the k best documents ordered by score descending, id ascending.
func TopK(docs []ranker.ScoredDoc, k int) []ranker.ScoredDoc {
	if k <= 0 {
		return []ranker.ScoredDoc{}
	}
	h := &scoredDocHeap{}
	for _, doc := range docs {
		heap.Push(h, doc)
		if h.Len() > k {
			heap.Pop(h)
		}
	}
	result := make([]ranker.ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ranker.ScoredDoc)
	}
	return result
}

// scoredDocHeap is a min-heap on result order: the root is the worst result
// kept so far.
type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool { return ranker.Less(h[j], h[i]) }

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// unionSorted merges ascending id lists into one ascending list without
// duplicates.
func unionSorted(lists [][]string) []string {
	var out []string
	for _, l := range lists {
		out = mergeTwo(out, l)
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func mergeTwo(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// intersectSorted keeps ids present in every list, starting from the
// shortest.
func intersectSorted(lists [][]string) []string {
	if len(lists) == 0 {
		return []string{}
	}
	shortest := 0
	for i, l := range lists {
		if len(l) < len(lists[shortest]) {
			shortest = i
		}
	}
	out := append([]string{}, lists[shortest]...)
	for i, l := range lists {
		if i == shortest {
			continue
		}
		out = intersectTwo(out, l)
		if len(out) == 0 {
			break
		}
	}
	return out
}

func intersectTwo(a, b []string) []string {
	out := a[:0]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// subtractSorted removes every id of b from a.
func subtractSorted(a, b []string) []string {
	out := make([]string, 0, len(a))
	j := 0
	for _, id := range a {
		for j < len(b) && b[j] < id {
			j++
		}
		if j < len(b) && b[j] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}
