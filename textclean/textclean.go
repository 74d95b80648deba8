// Package textclean turns HTML fragments scraped from repository pages into
// plain text suitable for a page's text layer.
package textclean

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Normalize strips markup from an HTML fragment. Line-break tags become
// newlines when newlineAtBreak is set and vanish otherwise, every other tag
// is dropped, numeric and named entities are decoded (unknown entities are
// left as written), leading whitespace of the text is removed and each line
// is trimmed of surrounding blanks.
func Normalize(fragment string, newlineAtBreak bool) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return cleanWhitespace(sb.String())
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if newlineAtBreak && atom.Lookup(name) == atom.Br {
				sb.WriteByte('\n')
			}
		}
	}
}

// NormalizeNode renders n back to HTML and normalizes the result.
func NormalizeNode(n *html.Node, newlineAtBreak bool) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return Normalize(buf.String(), newlineAtBreak), nil
}

func cleanWhitespace(text string) string {
	text = strings.TrimLeft(text, " \t\r\n\f\v")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Trim(line, " \t\r")
	}
	return strings.Join(lines, "\n")
}
