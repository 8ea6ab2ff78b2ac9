package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

// CrawlRunner is the orchestrator contract the job handlers drive.
type CrawlRunner interface {
	Crawl(ctx context.Context, target harvest.Target, cookie string) (harvest.CrawlOutcome, error)
}

// Handlers bundles the job-type-specific handler implementations.
type Handlers struct {
	runner    CrawlRunner
	store     harvest.JobStore
	clock     harvest.Clock
	activeIDs func() map[string]struct{}
	retention time.Duration
	logger    *zap.Logger
}

// NewHandlers constructs the handler set. activeIDs reports the
// scheduler's current in-flight job ids so cleanup never touches live
// work; retention bounds how long terminal jobs are kept.
func NewHandlers(
	runner CrawlRunner,
	store harvest.JobStore,
	clock harvest.Clock,
	activeIDs func() map[string]struct{},
	retention time.Duration,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Handlers{
		runner:    runner,
		store:     store,
		clock:     clock,
		activeIDs: activeIDs,
		retention: retention,
		logger:    logger,
	}
}

// RegisterAll installs every handler on the scheduler.
func (h *Handlers) RegisterAll(s *Scheduler) {
	s.Register(harvest.JobSaveArticle, h.SaveArticle)
	s.Register(harvest.JobSavePaste, h.SavePaste)
	s.Register(harvest.JobBatchSave, h.BatchSave)
	s.Register(harvest.JobCleanup, h.Cleanup)
}

// SaveArticle crawls and persists one article.
func (h *Handlers) SaveArticle(ctx context.Context, job *harvest.Job, report ProgressFn) (map[string]any, error) {
	return h.saveOne(ctx, harvest.KindArticle, job, report)
}

// SavePaste crawls and persists one paste.
func (h *Handlers) SavePaste(ctx context.Context, job *harvest.Job, report ProgressFn) (map[string]any, error) {
	return h.saveOne(ctx, harvest.KindPaste, job, report)
}

func (h *Handlers) saveOne(ctx context.Context, kind harvest.Kind, job *harvest.Job, report ProgressFn) (map[string]any, error) {
	target := harvest.Target{Kind: kind, SourceID: job.Payload.SourceID}
	report(10)
	outcome, err := h.runner.Crawl(ctx, target, job.Payload.Cookie)
	if err != nil {
		return nil, fmt.Errorf("crawl %s %s: %w", kind, target.SourceID, err)
	}
	if !outcome.Success {
		return nil, &harvest.CrawlError{Class: outcome.Class, Message: outcome.Message}
	}
	report(90)
	return map[string]any{
		"kind":       string(kind),
		"source_id":  target.SourceID,
		"title":      outcome.Record.Title,
		"word_count": len([]rune(outcome.Record.Body)),
	}, nil
}

// BatchSave crawls a list of targets of one kind. Per-target failures
// accumulate without aborting the batch; the job fails only when nothing
// succeeds.
func (h *Handlers) BatchSave(ctx context.Context, job *harvest.Job, report ProgressFn) (map[string]any, error) {
	total := len(job.Payload.SourceIDs)
	saved := 0
	var failures []string

	for i, sourceID := range job.Payload.SourceIDs {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("batch interrupted: %w", ctx.Err())
		}
		target := harvest.Target{Kind: job.Payload.Kind, SourceID: sourceID}
		outcome, err := h.runner.Crawl(ctx, target, job.Payload.Cookie)
		switch {
		case err != nil:
			failures = append(failures, fmt.Sprintf("%s: %v", sourceID, err))
		case !outcome.Success:
			failures = append(failures, fmt.Sprintf("%s: %s", sourceID, outcome.Message))
		default:
			saved++
		}
		report((i + 1) * 100 / total)
	}

	if saved == 0 {
		return nil, &harvest.CrawlError{
			Class:   harvest.FailureHTTPError,
			Message: fmt.Sprintf("batch failed for all %d targets: %s", total, strings.Join(failures, "; ")),
		}
	}
	result := map[string]any{
		"total": total,
		"saved": saved,
	}
	if len(failures) > 0 {
		result["failed"] = failures
	}
	return result, nil
}

// Cleanup reconciles jobs stranded in processing by a prior crash and
// prunes terminal jobs past the retention window. Stranded jobs are the
// scheduler's documented recovery gap; this is the operator-driven path
// that closes it.
func (h *Handlers) Cleanup(ctx context.Context, job *harvest.Job, report ProgressFn) (map[string]any, error) {
	active := h.activeIDs()
	stranded, err := h.store.FindJobsByStatus(ctx, harvest.JobStatusProcessing, 500)
	if err != nil {
		return nil, fmt.Errorf("find stranded jobs: %w", err)
	}
	reconciled := 0
	for _, candidate := range stranded {
		if candidate.ID == job.ID {
			continue
		}
		if _, live := active[candidate.ID]; live {
			continue
		}
		now := h.clock.Now()
		candidate.Status = harvest.JobStatusFailed
		candidate.Error = &harvest.JobError{Message: "stranded by restart"}
		candidate.CompletedAt = &now
		if err := h.store.UpdateJob(ctx, candidate); err != nil {
			h.logger.Warn("reconcile stranded job", zap.String("job_id", candidate.ID), zap.Error(err))
			continue
		}
		reconciled++
	}
	report(50)

	pruned, err := h.store.PruneTerminalJobs(ctx, h.clock.Now().Add(-h.retention))
	if err != nil {
		return nil, fmt.Errorf("prune terminal jobs: %w", err)
	}
	return map[string]any{
		"reconciled": reconciled,
		"pruned":     pruned,
	}, nil
}
