// Package parser turns a raw query string into a QueryPlan. Plain words are
// OR-ed together; an upper-case AND anywhere switches the query to
// intersection. NOT or a leading '-' excludes the next word or quoted group.
// Quoted groups contribute all of their terms.
package parser

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pankaj28843/docs-mcp-server/internal/tokenizer"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

type QueryType int

const (
	QueryOR QueryType = iota
	QueryAND
)

func (t QueryType) String() string {
	if t == QueryAND {
		return "AND"
	}
	return "OR"
}

// QueryPlan holds normalised terms ready for posting lookup.
type QueryPlan struct {
	Terms        []string
	Type         QueryType
	ExcludeTerms []string
	RawQuery     string
}

// Empty reports whether the plan matches nothing by construction.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

// Key is a canonical form of the plan: two queries with the same key return
// the same results on the same snapshot.
func (p *QueryPlan) Key() string {
	terms := append([]string(nil), p.Terms...)
	excludes := append([]string(nil), p.ExcludeTerms...)
	sort.Strings(terms)
	sort.Strings(excludes)
	parts := []string{p.Type.String(), strings.Join(terms, ",")}
	if len(excludes) > 0 {
		parts = append(parts, "NOT:"+strings.Join(excludes, ","))
	}
	return strings.Join(parts, "|")
}

type word struct {
	text    string
	quoted  bool
	negated bool
}

// Parse validates query and builds its plan. maxLen caps the query length in
// bytes; zero disables the cap. A query made only of stop-words yields an
// empty plan, not an error.
func Parse(query string, maxLen int) (*QueryPlan, error) {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Type:         QueryOR,
		RawQuery:     query,
	}
	if maxLen > 0 && len(query) > maxLen {
		return nil, fmt.Errorf("%w: query is %d bytes, limit is %d", apperrors.ErrQuery, len(query), maxLen)
	}
	if !utf8.ValidString(query) {
		return nil, fmt.Errorf("%w: query is not valid UTF-8", apperrors.ErrQuery)
	}
	words, err := lex(query)
	if err != nil {
		return nil, err
	}

	excludeNext := false
	for _, w := range words {
		if !w.quoted && !w.negated {
			switch w.text {
			case "AND":
				if excludeNext {
					return nil, fmt.Errorf("%w: NOT followed by AND", apperrors.ErrQuery)
				}
				plan.Type = QueryAND
				continue
			case "OR":
				if excludeNext {
					return nil, fmt.Errorf("%w: NOT followed by OR", apperrors.ErrQuery)
				}
				continue
			case "NOT":
				if excludeNext {
					return nil, fmt.Errorf("%w: repeated NOT", apperrors.ErrQuery)
				}
				excludeNext = true
				continue
			}
		}
		terms := tokenizer.Terms(w.text)
		if excludeNext || w.negated {
			plan.ExcludeTerms = append(plan.ExcludeTerms, terms...)
			excludeNext = false
			continue
		}
		plan.Terms = append(plan.Terms, terms...)
	}
	if excludeNext {
		return nil, fmt.Errorf("%w: NOT at end of query", apperrors.ErrQuery)
	}
	if len(plan.Terms) == 0 && len(plan.ExcludeTerms) > 0 {
		return nil, fmt.Errorf("%w: query only excludes terms", apperrors.ErrQuery)
	}
	return plan, nil
}

func lex(query string) ([]word, error) {
	var words []word
	var cur strings.Builder
	inQuote := false
	negated := false
	flush := func(quoted bool) {
		if cur.Len() > 0 || quoted {
			words = append(words, word{text: cur.String(), quoted: quoted, negated: negated})
		}
		cur.Reset()
		negated = false
	}
	for _, r := range query {
		switch {
		case r == '"':
			if inQuote {
				flush(true)
				inQuote = false
				continue
			}
			if cur.Len() > 0 {
				flush(false)
			}
			inQuote = true
		case inQuote:
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush(false)
		case r == '-' && cur.Len() == 0 && !negated:
			negated = true
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unbalanced quote", apperrors.ErrQuery)
	}
	flush(false)
	return words, nil
}
