// Package harvester drives one crawl attempt end to end: politeness
// delay, fetch, outcome classification, parsing, metadata derivation, and
// the entity upsert.
package harvester

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/fetcher"
	"github.com/JakeFAU/content-harvester/internal/harvest"
	"github.com/JakeFAU/content-harvester/internal/metrics"
)

// SessionClient is the fetch contract the orchestrator depends on.
type SessionClient interface {
	Fetch(ctx context.Context, url string, headers map[string]string, opts fetcher.Options) (fetcher.Result, map[string]string, error)
}

// Extractor is the parser contract the orchestrator depends on.
type Extractor interface {
	Extract(body []byte, contentType string, kind harvest.Kind) *harvest.ContentRecord
}

// Pauser abstracts how the orchestrator waits between requests.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// TimerPauser waits on a real timer, respecting context cancellation.
type TimerPauser struct{}

// Pause blocks for delay or until the context finishes.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Config controls orchestrator behavior.
type Config struct {
	BaseURL       string
	DefaultCookie string
	UserAgents    []string
	CookieMode    fetcher.CookieMode
	FetchTimeout  time.Duration
	JitterMin     time.Duration
	JitterMax     time.Duration
	SnapshotPrefix string
}

// apiQuery signals the content-only JSON variant of a page URL.
const apiQuery = "?format=json&content_only=1"

const wordsPerMinute = 200

// Orchestrator executes crawl attempts against the upstream site.
type Orchestrator struct {
	client    SessionClient
	extractor Extractor
	entities  harvest.EntityStore
	blobs     harvest.BlobStore
	clock     harvest.Clock
	pauser    Pauser
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. blobs may be nil, which disables the
// raw snapshot archive.
func New(
	client SessionClient,
	extractor Extractor,
	entities harvest.EntityStore,
	blobs harvest.BlobStore,
	clock harvest.Clock,
	pauser Pauser,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pauser == nil {
		pauser = TimerPauser{}
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	if cfg.JitterMax <= cfg.JitterMin {
		cfg.JitterMin = 500 * time.Millisecond
		cfg.JitterMax = 2 * time.Second
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	return &Orchestrator{
		client:    client,
		extractor: extractor,
		entities:  entities,
		blobs:     blobs,
		clock:     clock,
		pauser:    pauser,
		cfg:       cfg,
		logger:    logger,
	}
}

// Crawl performs one orchestration attempt for the target. Transport
// failures are returned as errors for the caller's retry loop; every
// application-level result comes back as CrawlOutcome data.
func (o *Orchestrator) Crawl(ctx context.Context, target harvest.Target, cookie string) (harvest.CrawlOutcome, error) {
	if !target.Kind.Valid() {
		return harvest.CrawlOutcome{}, &harvest.ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported kind %q", target.Kind)}
	}
	if target.SourceID == "" {
		return harvest.CrawlOutcome{}, &harvest.ValidationError{Field: "source_id", Reason: "must not be empty"}
	}

	o.pauser.Pause(ctx, o.jitter())
	if ctx.Err() != nil {
		return harvest.CrawlOutcome{}, fmt.Errorf("crawl canceled: %w", ctx.Err())
	}

	headers := o.buildHeaders(cookie)
	pageURL := target.SourceURL(o.cfg.BaseURL)
	opts := fetcher.Options{CookieMode: o.cfg.CookieMode, Timeout: o.cfg.FetchTimeout}

	res, err := o.fetchWithFallback(ctx, pageURL, headers, opts, target.Kind)
	if err != nil {
		return harvest.CrawlOutcome{}, err
	}
	metrics.ObserveFetch(string(target.Kind), res.Duration)

	outcome := o.classify(res, target.Kind)
	metrics.ObserveCrawl(string(target.Kind), outcomeLabel(outcome))

	if outcome.Success {
		if err := o.persistSuccess(ctx, target, res, outcome.Record); err != nil {
			return harvest.CrawlOutcome{}, err
		}
	} else {
		o.recordFailure(ctx, target, outcome)
	}
	return outcome, nil
}

// fetchWithFallback attempts the declared-API variant first; on any
// failure it falls back to the plain page fetch.
func (o *Orchestrator) fetchWithFallback(
	ctx context.Context,
	pageURL string,
	headers map[string]string,
	opts fetcher.Options,
	kind harvest.Kind,
) (fetcher.Result, error) {
	apiRes, _, apiErr := o.client.Fetch(ctx, pageURL+apiQuery, headers, opts)
	if apiErr == nil && apiRes.StatusCode == 200 {
		if rec := o.extractor.Extract(apiRes.Body, apiRes.Headers.Get("Content-Type"), kind); rec != nil {
			return apiRes, nil
		}
	}
	if apiErr != nil {
		o.logger.Debug("api variant fetch failed, falling back to page", zap.String("url", pageURL), zap.Error(apiErr))
	}
	res, _, err := o.client.Fetch(ctx, pageURL, headers, opts)
	if err != nil {
		return fetcher.Result{}, err
	}
	return res, nil
}

func (o *Orchestrator) persistSuccess(ctx context.Context, target harvest.Target, res fetcher.Result, rec *harvest.ContentRecord) error {
	now := o.clock.Now()
	fields := harvest.EntityFields{
		Title:       rec.Title,
		Body:        rec.Body,
		AuthorID:    rec.AuthorID,
		AuthorName:  rec.AuthorName,
		Category:    rec.Category,
		Tags:        rec.Tags,
		PublishedAt: rec.PublishedAt,
		WordCount:   wordCount(rec.Body),
		ReadingTime: readingTime(wordCount(rec.Body)),
		HasImages:   hasImages(rec.Body),
		HasCode:     hasCode(rec.Body),
		Status:      harvest.EntityCompleted,
		CrawledAt:   now,
	}
	fields.SnapshotURI = o.archiveSnapshot(ctx, target, res, now)
	if err := o.entities.UpsertEntity(ctx, target.Kind, target.SourceID, fields); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// recordFailure marks an existing, never-completed entity failed. A
// previously completed entity is left untouched so a bad re-crawl cannot
// revert good content.
func (o *Orchestrator) recordFailure(ctx context.Context, target harvest.Target, outcome harvest.CrawlOutcome) {
	existing, err := o.entities.FindEntity(ctx, target.Kind, target.SourceID)
	if err != nil || existing.Status == harvest.EntityCompleted {
		return
	}
	existing.Status = harvest.EntityFailed
	fields := harvest.EntityFields{
		Title:       existing.Title,
		Body:        existing.Body,
		AuthorID:    existing.AuthorID,
		AuthorName:  existing.AuthorName,
		Category:    existing.Category,
		Tags:        existing.Tags,
		PublishedAt: existing.PublishedAt,
		WordCount:   existing.WordCount,
		ReadingTime: existing.ReadingTime,
		HasImages:   existing.HasImages,
		HasCode:     existing.HasCode,
		SnapshotURI: existing.SnapshotURI,
		Status:      harvest.EntityFailed,
		FailureText: outcome.Message,
		CrawledAt:   o.clock.Now(),
	}
	if err := o.entities.UpsertEntity(ctx, target.Kind, target.SourceID, fields); err != nil {
		o.logger.Warn("record crawl failure",
			zap.String("kind", string(target.Kind)),
			zap.String("source_id", target.SourceID),
			zap.Error(err),
		)
	}
}

// archiveSnapshot stores the raw response body so content can be
// re-extracted when the site ships a new shape. Failures are logged and
// swallowed; the crawl result does not depend on the archive.
func (o *Orchestrator) archiveSnapshot(ctx context.Context, target harvest.Target, res fetcher.Result, now time.Time) string {
	if o.blobs == nil || len(res.Body) == 0 {
		return ""
	}
	path := fmt.Sprintf("%s/%s/%s/%d.html",
		strings.Trim(o.cfg.SnapshotPrefix, "/"), target.Kind, target.SourceID, now.Unix())
	uri, err := o.blobs.PutObject(ctx, path, res.Headers.Get("Content-Type"), strings.NewReader(string(res.Body)))
	if err != nil {
		o.logger.Warn("snapshot archive failed",
			zap.String("kind", string(target.Kind)),
			zap.String("source_id", target.SourceID),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

func (o *Orchestrator) jitter() time.Duration {
	span := o.cfg.JitterMax - o.cfg.JitterMin
	return o.cfg.JitterMin + rand.N(span)
}

func readingTime(words int) int {
	if words <= 0 {
		return 0
	}
	return (words + wordsPerMinute - 1) / wordsPerMinute
}

func outcomeLabel(outcome harvest.CrawlOutcome) string {
	if outcome.Success {
		return "success"
	}
	return string(outcome.Class)
}
