// Package parser extracts canonical content records from the upstream
// site's unstable response shapes. Each tier is a pure "raw bytes in,
// optional record out" function; tiers are tried in order and the first
// hit wins.
package parser

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

// DefaultMaxBodyLen caps stored body text. Anything longer is cut at a
// UTF-8-safe boundary.
const DefaultMaxBodyLen = 65535

// Author sentinels used when no identity can be recovered from any of the
// known nested locations.
const (
	UnknownAuthorID   = "unknown"
	UnknownAuthorName = "未知作者"
)

// contextScriptSelector matches the single embedded context element the
// site renders its page state into.
const contextScriptSelector = `script#js-context-data`

// Extractor turns raw response bytes into canonical content records.
type Extractor struct {
	clock      harvest.Clock
	maxBodyLen int
}

// New constructs an Extractor. The clock resolves relative timestamps
// ("today 14:30") against the current date.
func New(clock harvest.Clock) *Extractor {
	return &Extractor{clock: clock, maxBodyLen: DefaultMaxBodyLen}
}

// Extract tries each tier in order and returns the first canonical record,
// or nil when no tier yields a title+body pair. A nil return is an
// application-level parse failure, never an error.
func (e *Extractor) Extract(body []byte, contentType string, kind harvest.Kind) *harvest.ContentRecord {
	if len(body) == 0 {
		return nil
	}
	if declaresJSON(contentType) {
		if rec := e.fromJSONDocument(body, kind); rec != nil {
			return rec
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	if rec := e.fromContextElement(doc, kind); rec != nil {
		return rec
	}
	if rec := e.fromScriptState(doc, kind); rec != nil {
		return rec
	}
	return e.fromDOM(doc, kind)
}

func declaresJSON(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

// fromJSONDocument handles the declared-API shape: the whole body is JSON
// and the content object sits at one of two known paths.
func (e *Extractor) fromJSONDocument(body []byte, kind harvest.Kind) *harvest.ContentRecord {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil
	}
	return e.fromStateObject(root, kind)
}

// fromContextElement looks for the well-known embedded context script and
// parses its JSON blob.
func (e *Extractor) fromContextElement(doc *goquery.Document, kind harvest.Kind) *harvest.ContentRecord {
	var rec *harvest.ContentRecord
	doc.Find(contextScriptSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var root map[string]any
		if err := json.Unmarshal([]byte(sel.Text()), &root); err != nil {
			return true
		}
		rec = e.fromStateObject(root, kind)
		return rec == nil
	})
	return rec
}

// fromScriptState scans inline scripts for the known global-state
// assignment patterns and tries a JSON parse on each candidate blob.
func (e *Extractor) fromScriptState(doc *goquery.Document, kind harvest.Kind) *harvest.ContentRecord {
	var rec *harvest.ContentRecord
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		if text == "" {
			return true
		}
		for _, candidate := range stateCandidates(text) {
			var root map[string]any
			if err := json.Unmarshal([]byte(candidate), &root); err != nil {
				continue
			}
			if rec = e.fromStateObject(root, kind); rec != nil {
				return false
			}
		}
		return true
	})
	return rec
}

// fromStateObject resolves the nested content object from a decoded state
// tree and builds the canonical record.
func (e *Extractor) fromStateObject(root map[string]any, kind harvest.Kind) *harvest.ContentRecord {
	for _, path := range contentObjectPaths(kind) {
		obj := lookupObject(root, path)
		if obj == nil {
			continue
		}
		if rec := e.buildRecord(obj); rec != nil {
			return rec
		}
	}
	return nil
}

// contentObjectPaths enumerates the known locations of the content object
// inside a decoded state tree. These are explicit schema guesses, revised
// whenever the site ships a new shape.
func contentObjectPaths(kind harvest.Kind) [][]string {
	k := string(kind)
	return [][]string{
		{"data", k},
		{"currentData", k},
		{k},
	}
}

func lookupObject(root map[string]any, path []string) map[string]any {
	node := root
	for i, key := range path {
		child, ok := node[key]
		if !ok {
			return nil
		}
		m, ok := child.(map[string]any)
		if !ok {
			return nil
		}
		if i == len(path)-1 {
			return m
		}
		node = m
	}
	return nil
}

// buildRecord assembles a canonical record from a content object,
// reading author identity defensively from every known nested location.
func (e *Extractor) buildRecord(obj map[string]any) *harvest.ContentRecord {
	title := stringField(obj, "title")
	body := stringField(obj, "content", "body", "text")
	if title == "" || body == "" {
		return nil
	}
	authorID, authorName := authorIdentity(obj)
	rec := &harvest.ContentRecord{
		Title:       strings.TrimSpace(title),
		Body:        TruncateUTF8(body, e.maxBodyLen),
		AuthorID:    authorID,
		AuthorName:  authorName,
		Category:    categoryField(obj),
		Tags:        tagsField(obj),
		PublishedAt: e.publishedAt(obj),
	}
	return rec
}

func authorIdentity(obj map[string]any) (string, string) {
	id := UnknownAuthorID
	name := UnknownAuthorName
	for _, key := range []string{"author", "user", "creator"} {
		nested, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		if v := stringField(nested, "id", "uid", "userId", "user_id"); v != "" {
			id = v
		}
		if v := stringField(nested, "name", "nickname", "username"); v != "" {
			name = v
		}
		if id != UnknownAuthorID || name != UnknownAuthorName {
			return id, name
		}
	}
	if v := stringField(obj, "authorId", "author_id"); v != "" {
		id = v
	}
	if v := stringField(obj, "authorName", "author_name"); v != "" {
		name = v
	}
	return id, name
}

func categoryField(obj map[string]any) string {
	if v := stringField(obj, "category"); v != "" {
		return v
	}
	for _, key := range []string{"category", "channel"} {
		if nested, ok := obj[key].(map[string]any); ok {
			if v := stringField(nested, "name"); v != "" {
				return v
			}
		}
	}
	return ""
}

func tagsField(obj map[string]any) []string {
	raw, ok := obj["tags"].([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			if v != "" {
				tags = append(tags, v)
			}
		case map[string]any:
			if name := stringField(v, "name"); name != "" {
				tags = append(tags, name)
			}
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func (e *Extractor) publishedAt(obj map[string]any) time.Time {
	now := e.clock.Now()
	for _, key := range []string{"publishedAt", "published_at", "createdAt", "created_at", "time"} {
		switch v := obj[key].(type) {
		case string:
			if t, ok := parseAbsoluteTime(v); ok {
				return t
			}
			if t, ok := parseRelativeTime(v, now); ok {
				return t
			}
		case float64:
			return unixToTime(v)
		}
	}
	return now
}

func unixToTime(v float64) time.Time {
	// Millisecond timestamps show up in some shapes.
	n := int64(v)
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func stringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := obj[key].(string); ok {
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
	}
	return ""
}
