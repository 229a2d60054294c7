package snippet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj28843/docs-mcp-server/internal/tokenizer"
)

const pangram = "the quick brown fox jumps over the lazy dog"

func TestShortTextKeptWhole(t *testing.T) {
	t.Parallel()

	s := Extract(pangram, tokenizer.Terms("fox dog"), DefaultLength)
	assert.Equal(t, pangram, s.Text)
	assert.Equal(t, "the quick brown **fox** jumps over the lazy **dog**", s.Highlighted())
}

func TestWindowCoversBothTermsWithinLength(t *testing.T) {
	t.Parallel()

	s := Extract(pangram, tokenizer.Terms("fox dog"), 30)
	assert.LessOrEqual(t, s.End-s.Start, 30)
	assert.Contains(t, s.Text, "fox")
	assert.Contains(t, s.Text, "dog")
	assert.True(t, strings.HasPrefix(s.Text, ellipsis))
	require.Len(t, s.Highlights, 2)
	for _, h := range s.Highlights {
		word := s.Text[h.Start:h.End]
		assert.Contains(t, []string{"fox", "dog"}, word)
	}
}

func TestPrefersWindowWithMoreDistinctTerms(t *testing.T) {
	t.Parallel()

	text := "fox fox fox " + strings.Repeat("filler ", 40) + "the fox chased the dog " + strings.Repeat("tail ", 40)
	s := Extract(text, tokenizer.Terms("fox dog"), 40)
	assert.Contains(t, s.Text, "fox chased the dog")
	assert.LessOrEqual(t, s.End-s.Start, 40)
}

func TestNoMatchReturnsHead(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("lorem ipsum ", 50)
	s := Extract(text, tokenizer.Terms("absent"), 30)
	assert.Equal(t, 0, s.Start)
	assert.LessOrEqual(t, s.End, 30)
	assert.True(t, strings.HasSuffix(s.Text, ellipsis))
	assert.Empty(t, s.Highlights)
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(s.Text, ellipsis), "ipsu"))
}

func TestFlattensNewlinesAndKeepsUTF8(t *testing.T) {
	t.Parallel()

	text := "Überblick\nDie Suche nach Dokumenten\nfunktioniert mit Ränken"
	s := Extract(text, tokenizer.Terms("suche"), 20)
	assert.NotContains(t, s.Text, "\n")
	assert.True(t, strings.Contains(s.Highlighted(), "**Suche**"))
	assert.True(t, utf8Valid(s.Text))
}

func TestEmptyInputs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Snippet{}, Extract("", []string{"x"}, 10))
	s := Extract("short text", nil, 0)
	assert.Equal(t, "short text", s.Text)
}

func utf8Valid(s string) bool {
	return strings.ToValidUTF8(s, "�") == s
}
