// Package snippet cuts a bounded window out of a document's text that covers
// as many distinct query terms as possible, and marks where they occur.
package snippet

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pankaj28843/docs-mcp-server/internal/tokenizer"
)

const (
	DefaultLength = 240
	ellipsis      = "..."
)

// Span is a half-open byte range inside Snippet.Text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Snippet is the extracted window. Start and End are byte offsets into the
// source text; Text may carry leading or trailing ellipses when clipped.
type Snippet struct {
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Highlights []Span `json:"highlights,omitempty"`
}

// Highlighted renders Text with every highlight wrapped in ** markers.
func (s Snippet) Highlighted() string {
	if len(s.Highlights) == 0 {
		return s.Text
	}
	var b strings.Builder
	b.Grow(len(s.Text) + 4*len(s.Highlights))
	prev := 0
	for _, h := range s.Highlights {
		b.WriteString(s.Text[prev:h.Start])
		b.WriteString("**")
		b.WriteString(s.Text[h.Start:h.End])
		b.WriteString("**")
		prev = h.End
	}
	b.WriteString(s.Text[prev:])
	return b.String()
}

// Extract picks the window of at most maxLen bytes of text with the most
// distinct terms (already normalised, as produced by the tokenizer), earliest
// first on ties, then pads it with surrounding context. With no match the
// head of the document is returned.
func Extract(text string, terms []string, maxLen int) Snippet {
	if maxLen <= 0 {
		maxLen = DefaultLength
	}
	if text == "" {
		return Snippet{}
	}
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}
	var matches []tokenizer.Token
	if len(want) > 0 {
		for _, tok := range tokenizer.Tokenize(text) {
			if _, ok := want[tok.Term]; ok {
				matches = append(matches, tok)
			}
		}
	}

	if len(matches) == 0 {
		end := min(len(text), maxLen)
		end = snapEnd(text, 0, end, 0)
		return build(text, 0, end, nil)
	}

	bi, bj := bestWindow(matches, maxLen)
	coreStart, coreEnd := matches[bi].Start, matches[bj].End
	if coreEnd-coreStart > maxLen {
		coreEnd = runeFloor(text, coreStart+maxLen)
	}

	slack := maxLen - (coreEnd - coreStart)
	start := max(0, coreStart-slack/2)
	end := min(len(text), start+maxLen)
	if end == len(text) {
		start = max(0, end-maxLen)
	}
	start = snapStart(text, start, coreStart)
	end = snapEnd(text, start, end, coreEnd)
	return build(text, start, end, matches)
}

// bestWindow returns the match index range covering the most distinct terms
// whose byte extent fits in maxLen.
func bestWindow(matches []tokenizer.Token, maxLen int) (int, int) {
	counts := make(map[string]int)
	distinct, best := 0, 0
	bi, bj := 0, 0
	i := 0
	for j, m := range matches {
		if counts[m.Term] == 0 {
			distinct++
		}
		counts[m.Term]++
		for i < j && m.End-matches[i].Start > maxLen {
			counts[matches[i].Term]--
			if counts[matches[i].Term] == 0 {
				distinct--
			}
			i++
		}
		if distinct > best {
			best, bi, bj = distinct, i, j
		}
	}
	return bi, bj
}

func build(text string, start, end int, matches []tokenizer.Token) Snippet {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	var b strings.Builder
	prefix := 0
	if start > 0 {
		b.WriteString(ellipsis)
		prefix = len(ellipsis)
	}
	b.WriteString(strings.Map(flattenSpace, text[start:end]))
	if end < len(text) {
		b.WriteString(ellipsis)
	}
	s := Snippet{Text: b.String(), Start: start, End: end}
	for _, m := range matches {
		if m.Start >= start && m.End <= end {
			s.Highlights = append(s.Highlights, Span{Start: m.Start - start + prefix, End: m.End - start + prefix})
		}
	}
	return s
}

// snapStart moves start forward to the next word start, never past limit.
func snapStart(text string, start, limit int) int {
	if start == 0 || isSpace(text[start-1]) {
		return start
	}
	for i := start; i < limit; i++ {
		if isSpace(text[i]) {
			return i + 1
		}
	}
	return runeCeil(text, start, limit)
}

// snapEnd moves end back to the previous word end, never before limit.
func snapEnd(text string, start, end, limit int) int {
	if end >= len(text) || isSpace(text[end]) {
		return end
	}
	for i := end; i > limit && i > start; i-- {
		if isSpace(text[i-1]) {
			return i
		}
	}
	return runeFloor(text, end)
}

func runeFloor(text string, i int) int {
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func runeCeil(text string, i, limit int) int {
	for i < limit && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

func flattenSpace(r rune) rune {
	if r != ' ' && unicode.IsSpace(r) && r < utf8.RuneSelf {
		return ' '
	}
	return r
}
