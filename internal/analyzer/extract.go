package analyzer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText pulls readable text out of an HTML document, dropping script,
// style and navigation chrome, and truncates to maxChars.
func ExtractText(html string, maxChars int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return truncateRunes(html, maxChars)
	}
	doc.Find("script, style, noscript, nav, header, footer, iframe").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	text := root.Text()

	// Collapse runs of whitespace left behind by removed elements.
	fields := strings.Fields(text)
	return truncateRunes(strings.Join(fields, " "), maxChars)
}

func truncateRunes(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
