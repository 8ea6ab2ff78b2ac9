package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/harvest"
	memorystorage "github.com/JakeFAU/content-harvester/internal/storage/memory"
)

type fakeRunner struct {
	outcomes map[string]harvest.CrawlOutcome
	errs     map[string]error
	calls    []harvest.Target
}

func (r *fakeRunner) Crawl(_ context.Context, target harvest.Target, _ string) (harvest.CrawlOutcome, error) {
	r.calls = append(r.calls, target)
	if err, ok := r.errs[target.SourceID]; ok {
		return harvest.CrawlOutcome{}, err
	}
	if out, ok := r.outcomes[target.SourceID]; ok {
		return out, nil
	}
	return harvest.CrawlOutcome{
		Success: true,
		Record:  &harvest.ContentRecord{Title: "t-" + target.SourceID, Body: "body"},
	}, nil
}

func noActive() map[string]struct{} { return nil }

func newTestHandlers(runner *fakeRunner, store harvest.JobStore) *Handlers {
	return NewHandlers(runner, store, realClock{}, noActive, time.Hour, zap.NewNop())
}

func TestSaveArticle_Success(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	h := newTestHandlers(runner, memorystorage.NewJobStore())
	job := &harvest.Job{ID: "j1", Type: harvest.JobSaveArticle, Payload: harvest.JobPayload{SourceID: "a1"}}

	var progress []int
	result, err := h.SaveArticle(context.Background(), job, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	require.Equal(t, "a1", result["source_id"])
	require.Equal(t, "t-a1", result["title"])
	require.Equal(t, []int{10, 90}, progress)
	require.Equal(t, harvest.KindArticle, runner.calls[0].Kind)
}

func TestSavePaste_FailedOutcomeBecomesCrawlError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outcomes: map[string]harvest.CrawlOutcome{
		"p1": {Success: false, Class: harvest.FailureAuthRequired, Message: "requires login"},
	}}
	h := newTestHandlers(runner, memorystorage.NewJobStore())
	job := &harvest.Job{ID: "j2", Type: harvest.JobSavePaste, Payload: harvest.JobPayload{SourceID: "p1"}}

	_, err := h.SavePaste(context.Background(), job, func(int) {})
	var crawlErr *harvest.CrawlError
	require.ErrorAs(t, err, &crawlErr)
	require.Equal(t, harvest.FailureAuthRequired, crawlErr.Class)
}

func TestBatchSave_PartialSuccess(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		outcomes: map[string]harvest.CrawlOutcome{
			"bad": {Success: false, Class: harvest.FailureNotFound, Message: "content not found"},
		},
		errs: map[string]error{
			"worse": errors.New("connection reset"),
		},
	}
	h := newTestHandlers(runner, memorystorage.NewJobStore())
	job := &harvest.Job{
		ID:   "j3",
		Type: harvest.JobBatchSave,
		Payload: harvest.JobPayload{
			Kind:      harvest.KindArticle,
			SourceIDs: []string{"ok1", "bad", "worse", "ok2"},
		},
	}

	var progress []int
	result, err := h.BatchSave(context.Background(), job, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	require.Equal(t, 4, result["total"])
	require.Equal(t, 2, result["saved"])
	require.Len(t, result["failed"], 2)
	require.Equal(t, []int{25, 50, 75, 100}, progress)
}

func TestBatchSave_AllFailedIsError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outcomes: map[string]harvest.CrawlOutcome{
		"b1": {Success: false, Class: harvest.FailureBlocked, Message: "rate-limited or blocked"},
		"b2": {Success: false, Class: harvest.FailureBlocked, Message: "rate-limited or blocked"},
	}}
	h := newTestHandlers(runner, memorystorage.NewJobStore())
	job := &harvest.Job{
		ID:      "j4",
		Type:    harvest.JobBatchSave,
		Payload: harvest.JobPayload{Kind: harvest.KindPaste, SourceIDs: []string{"b1", "b2"}},
	}

	_, err := h.BatchSave(context.Background(), job, func(int) {})
	var crawlErr *harvest.CrawlError
	require.ErrorAs(t, err, &crawlErr)
}

func TestCleanup_ReconcilesStrandedAndPrunes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewJobStore()
	now := time.Now().UTC()

	// Stranded by a crash: processing with no live worker.
	require.NoError(t, store.CreateJob(ctx, harvest.Job{
		ID: "stranded", Type: harvest.JobSaveArticle, Status: harvest.JobStatusProcessing, CreatedAt: now.Add(-time.Hour),
	}))
	// Live: reported by the scheduler as in flight.
	require.NoError(t, store.CreateJob(ctx, harvest.Job{
		ID: "live", Type: harvest.JobSaveArticle, Status: harvest.JobStatusProcessing, CreatedAt: now,
	}))
	// Old terminal job past retention.
	oldDone := now.Add(-3 * time.Hour)
	require.NoError(t, store.CreateJob(ctx, harvest.Job{
		ID: "ancient", Type: harvest.JobSavePaste, Status: harvest.JobStatusCompleted, CreatedAt: oldDone, CompletedAt: &oldDone,
	}))
	// Recent terminal job inside retention.
	recentDone := now.Add(-time.Minute)
	require.NoError(t, store.CreateJob(ctx, harvest.Job{
		ID: "recent", Type: harvest.JobSavePaste, Status: harvest.JobStatusCompleted, CreatedAt: recentDone, CompletedAt: &recentDone,
	}))

	active := func() map[string]struct{} { return map[string]struct{}{"live": {}} }
	h := NewHandlers(&fakeRunner{}, store, realClock{}, active, time.Hour, zap.NewNop())

	self := &harvest.Job{ID: "cleanup-job", Type: harvest.JobCleanup, Status: harvest.JobStatusProcessing}
	result, err := h.Cleanup(ctx, self, func(int) {})
	require.NoError(t, err)
	require.Equal(t, 1, result["reconciled"])
	require.Equal(t, 1, result["pruned"])

	stranded, err := store.GetJob(ctx, "stranded")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusFailed, stranded.Status)
	require.Equal(t, "stranded by restart", stranded.Error.Message)

	live, err := store.GetJob(ctx, "live")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusProcessing, live.Status)

	_, err = store.GetJob(ctx, "ancient")
	require.ErrorIs(t, err, harvest.ErrNotFound)
	_, err = store.GetJob(ctx, "recent")
	require.NoError(t, err)
}
