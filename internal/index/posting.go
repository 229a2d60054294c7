package index

import (
	"sort"
)

// Posting records one document's occurrences of a term.
type Posting struct {
	DocID     string `json:"d"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p,omitempty"`
}

// PostingList is sorted by DocID ascending.
type PostingList []Posting

// Find returns the posting for docID using binary search.
func (pl PostingList) Find(docID string) (Posting, bool) {
	i := sort.Search(len(pl), func(i int) bool { return pl[i].DocID >= docID })
	if i < len(pl) && pl[i].DocID == docID {
		return pl[i], true
	}
	return Posting{}, false
}

// DocIDs returns the ids in posting order.
func (pl PostingList) DocIDs() []string {
	ids := make([]string, len(pl))
	for i, p := range pl {
		ids[i] = p.DocID
	}
	return ids
}

// TermEntry pairs a term with its posting list; segments are written as a
// term-ordered sequence of entries.
type TermEntry struct {
	Term     string
	Postings PostingList
}
