package parser

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

// Selector candidates for the DOM-heuristic fallback tier, in priority
// order. The first non-empty match per field wins.
var (
	titleSelectors = []string{
		"h1.article-title",
		"h1.post-title",
		"h1.title",
		".content-title h1",
		"h1",
	}
	bodySelectors = []string{
		"div.article-content",
		"div.paste-content",
		"div.post-body",
		"div#content",
		"article",
	}
	authorNameSelectors = []string{
		".author-info .name",
		"a.author-name",
		".username",
		".post-author a",
	}
	categorySelectors = []string{
		".breadcrumb li:nth-child(2) a",
		"a.category",
		".channel-name",
	}
	tagSelectors = []string{
		".tags a",
		"a.tag",
	}
	timeSelectors = []string{
		".publish-time",
		".post-time",
		"time",
		".date",
	}
)

// fromDOM is the last-resort tier: prioritized selector candidates per
// field, accepting the first non-empty match.
func (e *Extractor) fromDOM(doc *goquery.Document, _ harvest.Kind) *harvest.ContentRecord {
	title := firstText(doc, titleSelectors)
	body := firstHTML(doc, bodySelectors)
	if title == "" || body == "" {
		return nil
	}
	authorID, authorName := domAuthor(doc)
	return &harvest.ContentRecord{
		Title:       title,
		Body:        TruncateUTF8(body, e.maxBodyLen),
		AuthorID:    authorID,
		AuthorName:  authorName,
		Category:    firstText(doc, categorySelectors),
		Tags:        collectTexts(doc, tagSelectors),
		PublishedAt: e.domPublishedAt(doc),
	}
}

func domAuthor(doc *goquery.Document) (string, string) {
	id := UnknownAuthorID
	name := UnknownAuthorName
	for _, sel := range authorNameSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(node.Text()); text != "" {
			name = text
		}
		if uid, ok := node.Attr("data-uid"); ok && uid != "" {
			id = uid
		} else if href, ok := node.Attr("href"); ok {
			if uid := userIDFromHref(href); uid != "" {
				id = uid
			}
		}
		if name != UnknownAuthorName {
			break
		}
	}
	return id, name
}

// userIDFromHref pulls the trailing segment of a profile link like
// /user/12345.
func userIDFromHref(href string) string {
	href = strings.Trim(href, "/")
	parts := strings.Split(href, "/")
	if len(parts) < 2 {
		return ""
	}
	switch parts[len(parts)-2] {
	case "user", "member", "u":
		return parts[len(parts)-1]
	}
	return ""
}

func (e *Extractor) domPublishedAt(doc *goquery.Document) time.Time {
	now := e.clock.Now()
	for _, sel := range timeSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		text := strings.TrimSpace(node.Text())
		if dt, ok := node.Attr("datetime"); ok && dt != "" {
			text = dt
		}
		if text == "" {
			continue
		}
		if t, ok := parseAbsoluteTime(text); ok {
			return t
		}
		if t, ok := parseRelativeTime(text, now); ok {
			return t
		}
	}
	return now
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func firstHTML(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		html, err := node.Html()
		if err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(html); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func collectTexts(doc *goquery.Document, selectors []string) []string {
	for _, sel := range selectors {
		var out []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				out = append(out, text)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	"2006-01-02",
}

func parseAbsoluteTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseRelativeTime resolves "today HH:MM" / "yesterday HH:MM" strings
// (and their Chinese forms) against the supplied wall-clock date.
// Unparseable text is not an error; the caller falls back to now.
func parseRelativeTime(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	dayOffset := 0
	switch {
	case strings.HasPrefix(s, "today"):
		s = strings.TrimSpace(strings.TrimPrefix(s, "today"))
	case strings.HasPrefix(s, "今天"):
		s = strings.TrimSpace(strings.TrimPrefix(s, "今天"))
	case strings.HasPrefix(s, "yesterday"):
		s = strings.TrimSpace(strings.TrimPrefix(s, "yesterday"))
		dayOffset = -1
	case strings.HasPrefix(s, "昨天"):
		s = strings.TrimSpace(strings.TrimPrefix(s, "昨天"))
		dayOffset = -1
	default:
		return time.Time{}, false
	}
	clock, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, false
	}
	day := now.UTC().AddDate(0, 0, dayOffset)
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC), true
}
