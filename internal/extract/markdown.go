package extract

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Markdown walks the goldmark AST and keeps the visible text: headings,
// paragraphs, list items, table cells and code. Markup and raw HTML are dropped.
type Markdown struct {
	md goldmark.Markdown
}

func NewMarkdown() Markdown {
	return Markdown{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

func (m Markdown) Extract(_ string, body []byte) (Extracted, error) {
	doc := m.md.Parser().Parse(text.NewReader(body), parser.WithContext(parser.NewContext()))

	var (
		b            strings.Builder
		title        string
		titleLevel   = 7
		headingStart int
	)
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Heading:
			if entering {
				headingStart = b.Len()
			} else if node.Level < titleLevel {
				title = strings.TrimSpace(b.String()[headingStart:])
				titleLevel = node.Level
			}
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(body))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.Label(body))
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(body))
				}
			}
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		if !entering && n.Type() == ast.TypeBlock {
			b.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return Extracted{}, err
	}
	return Extracted{Title: title, Text: strings.TrimSpace(b.String())}, nil
}
