// Package fetcher issues session-scoped GET requests against the upstream
// site and negotiates its anti-bot cookie challenges.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

// CookieMode selects which challenge negotiation variant applies.
type CookieMode string

// Known negotiation variants. The site has shipped both; which one is
// active depends on the edge node answering the request.
const (
	CookieModeLegacy CookieMode = "legacy"
	CookieModeNew    CookieMode = "new"
)

// Options are per-call fetch knobs.
type Options struct {
	CookieMode CookieMode
	Timeout    time.Duration
}

// Result is the terminal HTTP response of one Fetch call, after any
// negotiation retry.
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	FinalURL   string
	Duration   time.Duration
}

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 10 << 20
)

// legacyTokenRe matches the embedded short-lived token assignment the
// legacy challenge plants in the page body.
var legacyTokenRe = regexp.MustCompile(`document\.cookie\s*=\s*['"]([^'";]+=[^'";]+)`)

// SessionFetcher issues GETs with manual redirect handling so challenge
// redirects can be observed rather than followed.
type SessionFetcher struct {
	client *http.Client
	logger *zap.Logger
}

// New constructs a SessionFetcher.
func New(logger *zap.Logger) *SessionFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionFetcher{
		client: &http.Client{
			Transport: newHTTPTransport(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Fetch issues one GET and performs at most one challenge-negotiation
// retry. It returns the terminal response plus the updated header map;
// the caller-owned input map is never mutated. Connection-level failures
// come back as *harvest.NetworkError; everything else propagates
// unchanged.
func (f *SessionFetcher) Fetch(
	ctx context.Context,
	url string,
	headers map[string]string,
	opts Options,
) (Result, map[string]string, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	out := copyHeaders(headers)

	res, err := f.do(ctx, url, out, timeout)
	if err != nil {
		return Result{}, out, err
	}

	switch opts.CookieMode {
	case CookieModeLegacy:
		if pair, ok := legacyToken(res.Body); ok {
			f.logger.Debug("legacy cookie challenge detected", zap.String("url", url))
			out["Cookie"] = mergeCookiePairs(out["Cookie"], []string{pair})
			res, err = f.do(ctx, url, out, timeout)
			if err != nil {
				return Result{}, out, err
			}
		}
	case CookieModeNew:
		if res.StatusCode >= 300 && res.StatusCode < 400 {
			pairs := setCookiePairs(res.Headers)
			if len(pairs) > 0 {
				f.logger.Debug("redirect cookie challenge detected",
					zap.String("url", url),
					zap.Int("cookies", len(pairs)),
				)
				out["Cookie"] = mergeCookiePairs(out["Cookie"], pairs)
				res, err = f.do(ctx, url, out, timeout)
				if err != nil {
					return Result{}, out, err
				}
			}
		}
	}
	// A second challenge after the retry is the caller's problem: it gets
	// classified as an outcome, not retried here.
	return res, out, nil
}

func (f *SessionFetcher) do(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	for key, value := range headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return Result{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
		}
		if harvest.IsTransportFailure(err) {
			return Result{}, &harvest.NetworkError{URL: url, Err: err}
		}
		return Result{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Debug("close response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if harvest.IsTransportFailure(err) {
			return Result{}, &harvest.NetworkError{URL: url, Err: err}
		}
		return Result{}, fmt.Errorf("read body: %w", err)
	}

	return Result{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		FinalURL:   resp.Request.URL.String(),
		Duration:   time.Since(start),
	}, nil
}

// legacyToken extracts the short-lived token pair the legacy challenge
// embeds in the body, if present.
func legacyToken(body []byte) (string, bool) {
	m := legacyTokenRe.FindSubmatch(body)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(string(m[1])), true
}

// setCookiePairs collects name=value pairs from all Set-Cookie headers.
func setCookiePairs(h http.Header) []string {
	var pairs []string
	for _, raw := range h.Values("Set-Cookie") {
		pair := strings.TrimSpace(strings.SplitN(raw, ";", 2)[0])
		if strings.Contains(pair, "=") {
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

// mergeCookiePairs merges new pairs into an existing Cookie header value;
// new values override same-named old ones, original order is kept.
func mergeCookiePairs(existing string, pairs []string) string {
	var order []string
	values := make(map[string]string)
	add := func(pair string) {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			return
		}
		if _, seen := values[name]; !seen {
			order = append(order, name)
		}
		values[name] = value
	}
	for _, pair := range strings.Split(existing, ";") {
		if strings.TrimSpace(pair) != "" {
			add(pair)
		}
	}
	for _, pair := range pairs {
		add(pair)
	}
	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, name+"="+values[name])
	}
	return strings.Join(parts, "; ")
}

func copyHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
