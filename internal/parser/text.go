package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// TruncateUTF8 cuts s to at most max bytes without ever splitting a
// multi-byte sequence; the result is always valid UTF-8.
func TruncateUTF8(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// StripTags reduces an HTML fragment to its text content. Malformed
// markup degrades to the raw input rather than an error.
func StripTags(html string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return html
	}
	return strings.TrimSpace(doc.Text())
}

// WordCount counts the runes of the tag-stripped body, which is how the
// upstream site measures CJK-heavy content.
func WordCount(html string) int {
	return utf8.RuneCountInString(strings.Join(strings.Fields(StripTags(html)), ""))
}

// HasImages probes the body for embedded image tags.
func HasImages(html string) bool {
	return strings.Contains(strings.ToLower(html), "<img")
}

// HasCode probes the body for code blocks.
func HasCode(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, "<pre") || strings.Contains(lower, "<code")
}
