package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/harvest"
	"github.com/JakeFAU/content-harvester/internal/notify"
	memorystorage "github.com/JakeFAU/content-harvester/internal/storage/memory"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type seqIDGen struct {
	mu   chan struct{}
	next int
}

func newSeqIDGen() *seqIDGen {
	g := &seqIDGen{mu: make(chan struct{}, 1)}
	g.mu <- struct{}{}
	return g
}

func (g *seqIDGen) NewID() (string, error) {
	<-g.mu
	defer func() { g.mu <- struct{}{} }()
	g.next++
	return string(rune('a'+g.next-1)) + "-job", nil
}

func fastConfig() Config {
	return Config{
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
		BaseDelay:    5 * time.Millisecond,
		DelayCap:     50 * time.Millisecond,
		MaxAttempts:  3,
	}
}

func newTestScheduler(t *testing.T, store harvest.JobStore, cfg Config) (*Scheduler, *notify.Hub) {
	t.Helper()
	hub := notify.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)
	return New(store, hub, realClock{}, newSeqIDGen(), cfg, zap.NewNop()), hub
}

func TestSubmit_ValidatesTypeAndPayload(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewJobStore()
	s, _ := newTestScheduler(t, store, fastConfig())
	s.Register(harvest.JobSaveArticle, func(context.Context, *harvest.Job, ProgressFn) (map[string]any, error) {
		return nil, nil
	})
	s.Register(harvest.JobBatchSave, func(context.Context, *harvest.Job, ProgressFn) (map[string]any, error) {
		return nil, nil
	})

	var verr *harvest.ValidationError

	_, err := s.Submit(context.Background(), "unknown_type", harvest.JobPayload{}, SubmitOptions{})
	require.ErrorAs(t, err, &verr)

	_, err = s.Submit(context.Background(), harvest.JobSaveArticle, harvest.JobPayload{}, SubmitOptions{})
	require.ErrorAs(t, err, &verr)

	_, err = s.Submit(context.Background(), harvest.JobBatchSave, harvest.JobPayload{Kind: harvest.KindArticle}, SubmitOptions{})
	require.ErrorAs(t, err, &verr)

	id, err := s.Submit(context.Background(), harvest.JobSaveArticle, harvest.JobPayload{SourceID: "a1"}, SubmitOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	persisted, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusPending, persisted.Status)
}

func TestRun_CompletesJobAndEmitsLifecycle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memorystorage.NewJobStore()
	s, hub := newTestScheduler(t, store, fastConfig())
	events, unsubscribe := hub.Subscribe(16)
	defer unsubscribe()

	s.Register(harvest.JobSaveArticle, func(_ context.Context, job *harvest.Job, report ProgressFn) (map[string]any, error) {
		report(50)
		return map[string]any{"source_id": job.Payload.SourceID}, nil
	})

	id, err := s.Submit(ctx, harvest.JobSaveArticle, harvest.JobPayload{SourceID: "a1"}, SubmitOptions{})
	require.NoError(t, err)

	go s.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, id)
		return err == nil && job.Status == harvest.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 100, job.Progress)
	require.Equal(t, "a1", job.Result["source_id"])
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	require.Nil(t, job.Error)

	var stages []notify.Stage
	deadline := time.After(time.Second)
	for len(stages) < 3 {
		select {
		case evt := <-events:
			stages = append(stages, evt.Stage)
		case <-deadline:
			t.Fatalf("timed out waiting for lifecycle events, got %v", stages)
		}
	}
	require.Equal(t, []notify.Stage{notify.StageJobAdded, notify.StageJobStarted, notify.StageJobCompleted}, stages)
}

func TestRun_RetriesThenFailsTerminally(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memorystorage.NewJobStore()
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	s, _ := newTestScheduler(t, store, cfg)

	attempts := make(chan struct{}, 16)
	s.Register(harvest.JobSavePaste, func(context.Context, *harvest.Job, ProgressFn) (map[string]any, error) {
		attempts <- struct{}{}
		return nil, &harvest.CrawlError{Class: harvest.FailureNotFound, Message: "content not found"}
	})

	id, err := s.Submit(ctx, harvest.JobSavePaste, harvest.JobPayload{SourceID: "p1"}, SubmitOptions{})
	require.NoError(t, err)

	go s.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, id)
		return err == nil && job.Status == harvest.JobStatusFailed
	}, time.Second, 5*time.Millisecond)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, job.Attempts)
	require.NotNil(t, job.Error)
	require.Equal(t, "content not found", job.Error.Message)
	require.Equal(t, harvest.FailureNotFound, job.Error.Class)
	require.Len(t, attempts, 2)
}

func TestRun_ConcurrencyBounded(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memorystorage.NewJobStore()
	cfg := fastConfig()
	cfg.Concurrency = 2
	s, _ := newTestScheduler(t, store, cfg)

	release := make(chan struct{})
	s.Register(harvest.JobSaveArticle, func(ctx context.Context, _ *harvest.Job, _ ProgressFn) (map[string]any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})

	for i := 0; i < 5; i++ {
		_, err := s.Submit(ctx, harvest.JobSaveArticle, harvest.JobPayload{SourceID: string(rune('a' + i))}, SubmitOptions{})
		require.NoError(t, err)
	}

	go s.Run(ctx)

	require.Eventually(t, func() bool {
		stats, err := s.GetStats(ctx)
		return err == nil && stats.Active == 2 && stats.Waiting == 3
	}, time.Second, 5*time.Millisecond)

	close(release)

	require.Eventually(t, func() bool {
		stats, err := s.GetStats(ctx)
		return err == nil && stats.Completed == 5 && stats.Active == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRun_StatusReadableWhileProcessing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memorystorage.NewJobStore()
	s, _ := newTestScheduler(t, store, fastConfig())

	s.Register(harvest.JobSaveArticle, func(_ context.Context, _ *harvest.Job, report ProgressFn) (map[string]any, error) {
		for i := 1; i <= 100; i++ {
			report(i)
		}
		return nil, nil
	})

	id, err := s.Submit(ctx, harvest.JobSaveArticle, harvest.JobPayload{SourceID: "a1"}, SubmitOptions{})
	require.NoError(t, err)

	go s.Run(ctx)

	// Hammer the status surface while the handler is reporting progress.
	// The race detector fails this test if in-flight job state is mutated
	// outside the scheduler mutex.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = s.GetStatus(ctx, id)
				_, _ = s.GetStats(ctx)
			}
		}()
	}

	require.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, id)
		return err == nil && job.Status == harvest.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	close(stop)
	wg.Wait()

	job, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 100, job.Progress)
}

type hookedJobStore struct {
	harvest.JobStore
	onUpdate func(job harvest.Job)
}

func (h *hookedJobStore) UpdateJob(ctx context.Context, job harvest.Job) error {
	if h.onUpdate != nil {
		h.onUpdate(job)
	}
	return h.JobStore.UpdateJob(ctx, job)
}

func TestHandleFailure_CancelCannotBeOverwrittenByRetryPersist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := memorystorage.NewJobStore()
	hooked := &hookedJobStore{JobStore: base}
	s, _ := newTestScheduler(t, hooked, fastConfig())

	failing := &harvest.Job{ID: "j-cancel", Type: harvest.JobSaveArticle, Payload: harvest.JobPayload{SourceID: "c"}, Status: harvest.JobStatusProcessing, MaxAttempts: 3}
	require.NoError(t, base.CreateJob(ctx, *failing))

	// The retry's pending state is persisted before the job re-enters the
	// queue, so a cancel issued at persist time finds nothing to cancel; a
	// cancel issued after the requeue is the last write to the store.
	sawPending := false
	hooked.onUpdate = func(job harvest.Job) {
		if job.ID == "j-cancel" && job.Status == harvest.JobStatusPending && !sawPending {
			sawPending = true
			require.False(t, s.Cancel(ctx, "j-cancel"))
		}
	}

	s.handleFailure(ctx, failing, errors.New("boom"))
	require.True(t, sawPending)
	require.Len(t, s.queue, 1)

	require.True(t, s.Cancel(ctx, "j-cancel"))
	require.Empty(t, s.queue)
	persisted, err := base.GetJob(ctx, "j-cancel")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusCancelled, persisted.Status)
}

func TestHandleFailure_DuplicatePendingDropsRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewJobStore()
	s, _ := newTestScheduler(t, store, fastConfig())

	payload := harvest.JobPayload{SourceID: "dup"}
	queued := &harvest.Job{ID: "j-queued", Type: harvest.JobSaveArticle, Payload: payload, Status: harvest.JobStatusPending, MaxAttempts: 3}
	failing := &harvest.Job{ID: "j-failing", Type: harvest.JobSaveArticle, Payload: payload, Status: harvest.JobStatusProcessing, MaxAttempts: 3}
	require.NoError(t, store.CreateJob(ctx, *queued))
	require.NoError(t, store.CreateJob(ctx, *failing))
	s.queue = append(s.queue, queued)

	s.handleFailure(ctx, failing, errors.New("boom"))

	// The retry is dropped: only the original stays queued, and the failed
	// job is persisted back to pending rather than re-queued.
	require.Len(t, s.queue, 1)
	require.Equal(t, "j-queued", s.queue[0].ID)
	persisted, err := store.GetJob(ctx, "j-failing")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusPending, persisted.Status)
	require.Equal(t, 1, persisted.Attempts)
}

func TestHandleFailure_RetryReentersAtFront(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewJobStore()
	s, _ := newTestScheduler(t, store, fastConfig())

	other := &harvest.Job{ID: "j-other", Type: harvest.JobSaveArticle, Payload: harvest.JobPayload{SourceID: "x"}, Status: harvest.JobStatusPending, MaxAttempts: 3}
	failing := &harvest.Job{ID: "j-retry", Type: harvest.JobSaveArticle, Payload: harvest.JobPayload{SourceID: "y"}, Status: harvest.JobStatusProcessing, MaxAttempts: 3}
	require.NoError(t, store.CreateJob(ctx, *other))
	require.NoError(t, store.CreateJob(ctx, *failing))
	s.queue = append(s.queue, other)

	s.handleFailure(ctx, failing, errors.New("boom"))

	require.Len(t, s.queue, 2)
	require.Equal(t, "j-retry", s.queue[0].ID)
	require.Equal(t, harvest.JobStatusPending, failing.Status)
	require.True(t, failing.NotBefore.After(time.Now().UTC().Add(-time.Second)))
}

func TestCancel_PendingOnly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memorystorage.NewJobStore()
	s, _ := newTestScheduler(t, store, fastConfig())
	s.Register(harvest.JobSaveArticle, func(context.Context, *harvest.Job, ProgressFn) (map[string]any, error) {
		return nil, nil
	})

	id, err := s.Submit(ctx, harvest.JobSaveArticle, harvest.JobPayload{SourceID: "a1"}, SubmitOptions{})
	require.NoError(t, err)

	// Not yet dispatched: cancellable.
	require.True(t, s.Cancel(ctx, id))
	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusCancelled, job.Status)
	require.NotNil(t, job.CompletedAt)

	// Already terminal (or unknown): not cancellable.
	require.False(t, s.Cancel(ctx, id))
	require.False(t, s.Cancel(ctx, "no-such-job"))
}

func TestGetStatus_FallsBackToStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewJobStore()
	s, _ := newTestScheduler(t, store, fastConfig())

	done := time.Now().UTC()
	require.NoError(t, store.CreateJob(ctx, harvest.Job{
		ID:          "old-job",
		Type:        harvest.JobSaveArticle,
		Status:      harvest.JobStatusCompleted,
		CompletedAt: &done,
	}))

	job, err := s.GetStatus(ctx, "old-job")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusCompleted, job.Status)

	_, err = s.GetStatus(ctx, "missing")
	require.ErrorIs(t, err, harvest.ErrNotFound)
}

func TestBootstrap_LoadsPendingSkipsProcessing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewJobStore()
	now := time.Now().UTC()
	require.NoError(t, store.CreateJob(ctx, harvest.Job{
		ID: "pending-1", Type: harvest.JobSaveArticle, Status: harvest.JobStatusPending,
		Payload: harvest.JobPayload{SourceID: "a"}, CreatedAt: now.Add(-2 * time.Minute),
	}))
	require.NoError(t, store.CreateJob(ctx, harvest.Job{
		ID: "stranded-1", Type: harvest.JobSaveArticle, Status: harvest.JobStatusProcessing,
		Payload: harvest.JobPayload{SourceID: "b"}, CreatedAt: now.Add(-time.Minute),
	}))

	s, _ := newTestScheduler(t, store, fastConfig())
	require.NoError(t, s.Bootstrap(ctx))

	require.Len(t, s.queue, 1)
	require.Equal(t, "pending-1", s.queue[0].ID)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	base := time.Second
	ceiling := 5 * time.Minute
	require.Equal(t, 2*time.Second, backoffDelay(base, ceiling, 1))
	require.Equal(t, 4*time.Second, backoffDelay(base, ceiling, 2))
	require.Equal(t, 8*time.Second, backoffDelay(base, ceiling, 3))
	require.Equal(t, ceiling, backoffDelay(base, ceiling, 30))
}

func TestReduceError(t *testing.T) {
	t.Parallel()

	reduced := reduceError(&harvest.CrawlError{Class: harvest.FailureBlocked, Message: "rate-limited or blocked"})
	require.Equal(t, harvest.FailureBlocked, reduced.Class)
	require.Equal(t, "rate-limited or blocked", reduced.Message)

	plain := reduceError(errors.New("dial tcp: connection refused"))
	require.Empty(t, plain.Class)
	require.Equal(t, "dial tcp: connection refused", plain.Message)
}
