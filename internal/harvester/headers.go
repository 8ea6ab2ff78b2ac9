package harvester

import "sync/atomic"

// defaultUserAgents is the rotation pool used when config supplies none.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

var uaCursor atomic.Uint64

// buildHeaders assembles the outgoing header set for one attempt: a
// rotated client identity, referer, language, and the supplied cookie.
// An empty cookie falls back to the operator-configured default identity.
func (o *Orchestrator) buildHeaders(cookie string) map[string]string {
	n := uaCursor.Add(1)
	agents := o.cfg.UserAgents
	headers := map[string]string{
		"User-Agent":      agents[int(n)%len(agents)],
		"Referer":         o.cfg.BaseURL + "/",
		"Accept":          "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8",
		"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
	}
	if cookie == "" {
		cookie = o.cfg.DefaultCookie
	}
	if cookie != "" {
		headers["Cookie"] = cookie
	}
	return headers
}
