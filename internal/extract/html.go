package extract

import (
	"bytes"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// HTML extracts the main article with readability. Pages readability cannot
// make sense of (short reference pages, index listings) fall back to a plain
// tag strip that drops script, style and navigation chrome.
type HTML struct{}

func (HTML) Extract(uri string, body []byte) (Extracted, error) {
	pageURL, err := url.Parse(uri)
	if err != nil || !pageURL.IsAbs() {
		pageURL = &url.URL{Scheme: "file", Path: "/" + strings.TrimPrefix(uri, "/")}
	}
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		title := strings.TrimSpace(article.Title)
		if title == "" {
			title = htmlTitle(body)
		}
		return Extracted{Title: title, Text: strings.TrimSpace(article.TextContent)}, nil
	}
	return Extracted{Title: htmlTitle(body), Text: stripHTML(body)}, nil
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true,
	"header": true, "footer": true, "template": true, "svg": true, "title": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "table": true, "blockquote": true,
}

func stripHTML(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] {
				skip++
			} else if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] && skip > 0 {
				skip--
			} else if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockElements[string(name)] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func htmlTitle(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.EndTagToken:
			inTitle = false
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(z.Text()))
			}
		}
	}
}
