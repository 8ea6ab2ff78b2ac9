package harvester

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/content-harvester/internal/fetcher"
	"github.com/JakeFAU/content-harvester/internal/harvest"
	"github.com/JakeFAU/content-harvester/internal/parser"
)

// challengeKeywords are title/body markers of security-verification
// interstitials, in both languages the site serves.
var challengeKeywords = []string{
	"安全验证",
	"请完成验证",
	"security verification",
	"verify you are human",
	"just a moment",
}

// classify maps the terminal HTTP response onto the failure taxonomy, or
// parses it into a successful outcome.
func (o *Orchestrator) classify(res fetcher.Result, kind harvest.Kind) harvest.CrawlOutcome {
	switch {
	case res.StatusCode >= 300 && res.StatusCode < 400:
		location := res.Headers.Get("Location")
		if strings.Contains(location, "/login") {
			return failure(harvest.FailureAuthRequired, res.StatusCode)
		}
		return failure(harvest.FailureUnexpectedRedirect, res.StatusCode)
	case res.StatusCode == 404:
		return failure(harvest.FailureNotFound, res.StatusCode)
	case res.StatusCode == 403 || res.StatusCode == 451:
		return failure(harvest.FailureBlocked, res.StatusCode)
	case res.StatusCode == 401:
		return failure(harvest.FailureAuthExpired, res.StatusCode)
	case res.StatusCode != 200:
		out := failure(harvest.FailureHTTPError, res.StatusCode)
		out.Message = fmt.Sprintf("upstream http error %d", res.StatusCode)
		return out
	}

	if challengePage(res.Body) {
		return failure(harvest.FailureChallengeRequired, res.StatusCode)
	}

	rec := o.extractor.Extract(res.Body, res.Headers.Get("Content-Type"), kind)
	if rec == nil {
		return failure(harvest.FailureParseFailed, res.StatusCode)
	}
	return harvest.CrawlOutcome{
		Success:    true,
		Record:     rec,
		StatusCode: res.StatusCode,
	}
}

// challengePage reports whether a 200 response is actually an
// interactive-challenge interstitial: a login form, a "continue" control,
// a CAPTCHA input, or verification keywords in title/body.
func challengePage(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, kw := range challengeKeywords {
		if bytes.Contains(lower, bytes.ToLower([]byte(kw))) {
			return true
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find(`form[action*="login"]`).Length() > 0 {
		return true
	}
	if doc.Find(`input[name*="captcha"], img[src*="captcha"]`).Length() > 0 {
		return true
	}
	challenge := false
	doc.Find("button, a.btn, input[type=submit]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if text == "" {
			if v, ok := s.Attr("value"); ok {
				text = strings.ToLower(strings.TrimSpace(v))
			}
		}
		if text == "continue" || text == "继续" || strings.Contains(text, "verify") {
			challenge = true
			return false
		}
		return true
	})
	return challenge
}

func failure(class harvest.FailureClass, status int) harvest.CrawlOutcome {
	return harvest.CrawlOutcome{
		Class:      class,
		Message:    harvest.FailureMessage(class),
		StatusCode: status,
	}
}

func wordCount(body string) int {
	return parser.WordCount(body)
}

func hasImages(body string) bool {
	return parser.HasImages(body)
}

func hasCode(body string) bool {
	return parser.HasCode(body)
}
