// Package tokenizer turns raw text into the normalised term sequence shared by
// index time and query time. Words are maximal runs of letters and digits;
// each is lower-cased, stripped of diacritics, filtered against an English
// stop-word list and reduced with the Porter stemmer. Every token keeps the
// byte offsets of the word it came from so snippets can be cut from the
// original text.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MinWordLength is the shortest word, in runes, that becomes a token.
const MinWordLength = 2

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {}, "into": {},
	"than": {}, "then": {}, "there": {}, "these": {}, "those": {},
	"we": {}, "you": {}, "your": {}, "our": {}, "been": {}, "being": {},
}

// Token is one normalised term. Position is its ordinal among kept tokens;
// Start and End are byte offsets of the source word in the input.
type Token struct {
	Term     string
	Position int
	Start    int
	End      int
}

// Tokenize breaks text into stemmed, lower-cased tokens with stop-words
// removed. The output depends only on text.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/6)
	pos := 0
	start := -1
	emit := func(end int) {
		term, ok := Normalize(text[start:end])
		if ok {
			tokens = append(tokens, Token{Term: term, Position: pos, Start: start, End: end})
			pos++
		}
		start = -1
	}
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			emit(i)
		}
	}
	if start >= 0 {
		emit(len(text))
	}
	return tokens
}

// Terms returns only the term strings of Tokenize(text).
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}

// Normalize maps a single word to its index term. It reports false for words
// that are too short or are stop-words.
func Normalize(word string) (string, bool) {
	word = strings.ToLower(word)
	if !isASCII(word) {
		word = foldDiacritics(word)
	}
	if utf8.RuneCountInString(word) < MinWordLength {
		return "", false
	}
	if _, isStop := stopWords[word]; isStop {
		return "", false
	}
	stemmed := porterstemmer.StemString(word)
	if stemmed == "" {
		return "", false
	}
	return stemmed, true
}

// IsStopWord reports whether the lower-cased word is dropped by Normalize.
func IsStopWord(word string) bool {
	_, ok := stopWords[strings.ToLower(word)]
	return ok
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// foldDiacritics decomposes s and drops combining marks, so "café" and
// "cafe" index to the same term. Transformers are stateful, hence one per
// call.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}
