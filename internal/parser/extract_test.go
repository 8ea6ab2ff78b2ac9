package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func testClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
}

func TestExtract_JSONDocument(t *testing.T) {
	t.Parallel()

	e := New(testClock())
	body := []byte(`{"data":{"article":{
		"title":"Inflation Watch",
		"content":"<p>prices rose</p>",
		"author":{"id":"42","name":"jake"},
		"category":"economics",
		"tags":["markets","prices"],
		"publishedAt":"2026-08-20 09:30:00"
	}}}`)

	rec := e.Extract(body, "application/json; charset=utf-8", harvest.KindArticle)
	require.NotNil(t, rec)
	require.Equal(t, "Inflation Watch", rec.Title)
	require.Equal(t, "<p>prices rose</p>", rec.Body)
	require.Equal(t, "42", rec.AuthorID)
	require.Equal(t, "jake", rec.AuthorName)
	require.Equal(t, "economics", rec.Category)
	require.Equal(t, []string{"markets", "prices"}, rec.Tags)
	require.Equal(t, time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC), rec.PublishedAt)
}

func TestExtract_ContextScriptElement(t *testing.T) {
	t.Parallel()

	e := New(testClock())
	body := []byte(`<html><head>
		<script id="js-context-data" type="application/json">
			{"currentData":{"paste":{"title":"snippet","text":"package main"}}}
		</script>
	</head><body></body></html>`)

	rec := e.Extract(body, "text/html", harvest.KindPaste)
	require.NotNil(t, rec)
	require.Equal(t, "snippet", rec.Title)
	require.Equal(t, "package main", rec.Body)
	require.Equal(t, UnknownAuthorID, rec.AuthorID)
	require.Equal(t, UnknownAuthorName, rec.AuthorName)
}

func TestExtract_ScriptStateJSONParse(t *testing.T) {
	t.Parallel()

	e := New(testClock())
	body := []byte(`<html><body>
		<script>window.__INITIAL_STATE__ = JSON.parse("{\"article\":{\"title\":\"t1\",\"content\":\"c1\",\"authorId\":\"7\",\"authorName\":\"ann\"}}");</script>
	</body></html>`)

	rec := e.Extract(body, "text/html", harvest.KindArticle)
	require.NotNil(t, rec)
	require.Equal(t, "t1", rec.Title)
	require.Equal(t, "c1", rec.Body)
	require.Equal(t, "7", rec.AuthorID)
	require.Equal(t, "ann", rec.AuthorName)
}

func TestExtract_ScriptStateObjectLiteral(t *testing.T) {
	t.Parallel()

	e := New(testClock())
	body := []byte(`<html><body>
		<script>
			var currentData = {"paste": {"title": "t", "content": "c", "time": 1755000000}};
		</script>
	</body></html>`)

	rec := e.Extract(body, "text/html", harvest.KindPaste)
	require.NotNil(t, rec)
	require.Equal(t, "t", rec.Title)
	require.Equal(t, "c", rec.Body)
	require.Equal(t, time.Unix(1755000000, 0).UTC(), rec.PublishedAt)
}

func TestExtract_DOMFallback(t *testing.T) {
	t.Parallel()

	e := New(testClock())
	body := []byte(`<html><body>
		<h1 class="article-title">Fallback Title</h1>
		<div class="article-content"><p>fallback body</p></div>
		<div class="author-info"><a class="author-name" href="/user/99">bob</a></div>
		<span class="publish-time">昨天 18:45</span>
		<div class="tags"><a>go</a><a>http</a></div>
	</body></html>`)

	rec := e.Extract(body, "text/html", harvest.KindArticle)
	require.NotNil(t, rec)
	require.Equal(t, "Fallback Title", rec.Title)
	require.Contains(t, rec.Body, "fallback body")
	require.Equal(t, "99", rec.AuthorID)
	require.Equal(t, "bob", rec.AuthorName)
	require.Equal(t, []string{"go", "http"}, rec.Tags)
	require.Equal(t, time.Date(2026, 8, 24, 18, 45, 0, 0, time.UTC), rec.PublishedAt)
}

func TestExtract_TierOrdering(t *testing.T) {
	t.Parallel()

	// Context element and DOM content disagree; the earlier tier must win.
	e := New(testClock())
	body := []byte(`<html><body>
		<script id="js-context-data">{"article":{"title":"from context","content":"ctx body"}}</script>
		<h1 class="article-title">from dom</h1>
		<div class="article-content">dom body</div>
	</body></html>`)

	rec := e.Extract(body, "text/html", harvest.KindArticle)
	require.NotNil(t, rec)
	require.Equal(t, "from context", rec.Title)
}

func TestExtract_UnrecognizableReturnsNil(t *testing.T) {
	t.Parallel()

	e := New(testClock())
	require.Nil(t, e.Extract(nil, "text/html", harvest.KindArticle))
	require.Nil(t, e.Extract([]byte("<html><body><p>nothing here</p></body></html>"), "text/html", harvest.KindArticle))
	require.Nil(t, e.Extract([]byte(`{"data":{"article":{"title":"no body"}}}`), "application/json", harvest.KindArticle))
}

func TestExtract_BodyTruncatedAtRuneBoundary(t *testing.T) {
	t.Parallel()

	e := New(testClock())
	e.maxBodyLen = 10
	long := "汉字汉字汉字汉字" // 3 bytes per rune
	body := []byte(`{"article":{"title":"t","content":"` + long + `"}}`)

	rec := e.Extract(body, "application/json", harvest.KindArticle)
	require.NotNil(t, rec)
	require.LessOrEqual(t, len(rec.Body), 10)
	require.Equal(t, "汉字汉", rec.Body)
}

func TestParseRelativeTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 23, 50, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"today 14:30", time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC), true},
		{"今天 08:05", time.Date(2026, 8, 25, 8, 5, 0, 0, time.UTC), true},
		{"yesterday 22:10", time.Date(2026, 8, 24, 22, 10, 0, 0, time.UTC), true},
		{"昨天 00:01", time.Date(2026, 8, 24, 0, 1, 0, 0, time.UTC), true},
		{"last week", time.Time{}, false},
		{"today", time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := parseRelativeTime(tc.in, now)
		require.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			require.Equal(t, tc.want, got, tc.in)
		}
	}
}

func TestStateCandidates(t *testing.T) {
	t.Parallel()

	script := `window.__APP_DATA__ = {"a": {"b": "}"}};
		other = JSON.parse("{\"x\":1}");`
	candidates := stateCandidates(script)
	require.Contains(t, candidates, `{"x":1}`)
	require.Contains(t, candidates, `{"a": {"b": "}"}}`)
}
