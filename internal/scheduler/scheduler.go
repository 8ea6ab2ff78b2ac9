// Package scheduler runs crawl jobs from an in-memory queue with bounded
// concurrency, capped exponential backoff, duplicate-retry suppression,
// and pending-only cancellation. All queue mutation, and every field
// write on a queued or in-flight job, happens under one mutex shared by
// the dispatch loop and the public entry points; delayed retries carry a
// not-before timestamp instead of timer callbacks, so the loop alone
// decides readiness.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/harvest"
	"github.com/JakeFAU/content-harvester/internal/metrics"
	"github.com/JakeFAU/content-harvester/internal/notify"
)

// ProgressFn lets a handler report sub-step completion; the scheduler
// persists the new progress value.
type ProgressFn func(progress int)

// Handler executes one job type. A nil error marks the job completed with
// the returned result projection; an error routes through the retry
// policy.
type Handler func(ctx context.Context, job *harvest.Job, report ProgressFn) (map[string]any, error)

// Config controls scheduler behavior.
type Config struct {
	Concurrency    int
	PollInterval   time.Duration
	BaseDelay      time.Duration
	DelayCap       time.Duration
	MaxAttempts    int
	BootstrapLimit int
}

// SubmitOptions are per-job overrides accepted by Submit.
type SubmitOptions struct {
	MaxAttempts int
}

// Scheduler owns the in-memory job queue and the dispatch loop.
type Scheduler struct {
	mu       sync.Mutex
	queue    []*harvest.Job
	inflight map[string]*harvest.Job

	handlers map[harvest.JobType]Handler
	store    harvest.JobStore
	hub      *notify.Hub
	clock    harvest.Clock
	idGen    harvest.IDGenerator
	cfg      Config
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// New constructs a Scheduler. Handlers are registered afterwards with
// Register, before Run starts.
func New(
	store harvest.JobStore,
	hub *notify.Hub,
	clock harvest.Clock,
	idGen harvest.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.DelayCap <= 0 {
		cfg.DelayCap = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BootstrapLimit <= 0 {
		cfg.BootstrapLimit = 100
	}
	return &Scheduler{
		inflight: make(map[string]*harvest.Job),
		handlers: make(map[harvest.JobType]Handler),
		store:    store,
		hub:      hub,
		clock:    clock,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
	}
}

// Register installs the handler for a job type.
func (s *Scheduler) Register(jobType harvest.JobType, handler Handler) {
	s.handlers[jobType] = handler
}

// Submit creates a pending job, persists it, enqueues it, and notifies.
func (s *Scheduler) Submit(ctx context.Context, jobType harvest.JobType, payload harvest.JobPayload, opts SubmitOptions) (string, error) {
	if _, ok := s.handlers[jobType]; !ok {
		return "", &harvest.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown job type %q", jobType)}
	}
	if err := validatePayload(jobType, payload); err != nil {
		return "", err
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}
	job := &harvest.Job{
		ID:          id,
		Type:        jobType,
		Payload:     payload,
		Status:      harvest.JobStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, *job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	// Snapshot before publishing: once queued, the dispatch loop owns the
	// struct and may already be mutating it when the event goes out.
	snapshot := *job
	s.mu.Lock()
	s.queue = append(s.queue, job)
	metrics.SetQueueDepth(len(s.queue))
	s.mu.Unlock()

	s.emit(notify.StageJobAdded, &snapshot, "")
	return id, nil
}

// Run drives the dispatch loop until the context finishes, then waits for
// in-flight jobs to settle.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch promotes ready pending jobs into the in-flight set while slots
// remain. Within equal readiness, queue order is dispatch order.
func (s *Scheduler) dispatch(ctx context.Context) {
	now := s.clock.Now()
	var started []*harvest.Job

	s.mu.Lock()
	for len(s.inflight) < s.cfg.Concurrency {
		idx := -1
		for i, job := range s.queue {
			if !job.NotBefore.After(now) {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		job := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.inflight[job.ID] = job
		started = append(started, job)
	}
	metrics.SetQueueDepth(len(s.queue))
	metrics.SetActiveJobs(len(s.inflight))
	s.mu.Unlock()

	for _, job := range started {
		s.wg.Add(1)
		go func(j *harvest.Job) {
			defer s.wg.Done()
			s.process(ctx, j)
		}(job)
	}
}

func (s *Scheduler) process(ctx context.Context, job *harvest.Job) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, job.ID)
		metrics.SetActiveJobs(len(s.inflight))
		s.mu.Unlock()
	}()

	now := s.clock.Now()
	s.mu.Lock()
	job.Status = harvest.JobStatusProcessing
	job.StartedAt = &now
	s.mu.Unlock()
	s.persist(ctx, job)
	s.emit(notify.StageJobStarted, job, "")

	handler, ok := s.handlers[job.Type]
	if !ok {
		s.failTerminally(ctx, job, &harvest.JobError{Message: fmt.Sprintf("no handler for job type %q", job.Type)})
		return
	}

	report := func(progress int) {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		s.mu.Lock()
		job.Progress = progress
		s.mu.Unlock()
		s.persist(ctx, job)
	}

	result, err := handler(ctx, job, report)
	if err != nil {
		s.handleFailure(ctx, job, err)
		return
	}

	done := s.clock.Now()
	s.mu.Lock()
	job.Status = harvest.JobStatusCompleted
	job.Progress = 100
	job.Result = result
	job.Error = nil
	job.CompletedAt = &done
	s.mu.Unlock()
	s.persist(ctx, job)
	s.emit(notify.StageJobCompleted, job, "")
	metrics.JobFinished(string(job.Type), string(job.Status))
}

// handleFailure applies the retry policy: capped exponential backoff,
// duplicate-pending suppression, then terminal failure once attempts are
// exhausted. Every path ends in pending or failed; a job is never left in
// processing.
func (s *Scheduler) handleFailure(ctx context.Context, job *harvest.Job, err error) {
	jobErr := reduceError(err)
	s.mu.Lock()
	job.Attempts++
	job.Error = jobErr
	exhausted := job.Attempts >= job.MaxAttempts
	s.mu.Unlock()

	if exhausted {
		s.failTerminally(ctx, job, jobErr)
		return
	}

	delay := backoffDelay(s.cfg.BaseDelay, s.cfg.DelayCap, job.Attempts)
	s.mu.Lock()
	job.Status = harvest.JobStatusPending
	job.NotBefore = s.clock.Now().Add(delay)
	// Once re-queued the job may be re-dispatched at any moment, so the
	// event and log below work from a copy, not the live struct.
	snapshot := *job
	s.mu.Unlock()

	// Persist the pending state before the job re-enters the queue. Once
	// queued it is cancellable again, and a cancel's persisted state must
	// not be overwritten by a late pending write.
	s.persist(ctx, job)

	s.mu.Lock()
	if s.pendingDuplicateLocked(job) {
		s.mu.Unlock()
		// An equivalent job is already queued; re-running this one would
		// duplicate the work. Drop the retry.
		s.logger.Debug("retry dropped, duplicate already pending",
			zap.String("job_id", job.ID),
			zap.String("type", string(job.Type)),
		)
		return
	}
	// Retries re-enter at the front of the queue: the job already spent a
	// dispatch slot plus its backoff delay, so it keeps priority over
	// fresh submissions.
	s.queue = append([]*harvest.Job{job}, s.queue...)
	metrics.SetQueueDepth(len(s.queue))
	s.mu.Unlock()

	s.emit(notify.StageRetryPlanned, &snapshot, jobErr.Message)
	s.logger.Info("retry scheduled",
		zap.String("job_id", snapshot.ID),
		zap.Int("attempt", snapshot.Attempts),
		zap.Duration("delay", delay),
	)
}

func (s *Scheduler) pendingDuplicateLocked(job *harvest.Job) bool {
	for _, queued := range s.queue {
		if queued.ID != job.ID && queued.Type == job.Type && queued.Payload.Equal(job.Payload) {
			return true
		}
	}
	return false
}

func (s *Scheduler) failTerminally(ctx context.Context, job *harvest.Job, jobErr *harvest.JobError) {
	done := s.clock.Now()
	s.mu.Lock()
	job.Status = harvest.JobStatusFailed
	job.Error = jobErr
	job.CompletedAt = &done
	s.mu.Unlock()
	s.persist(ctx, job)
	s.emit(notify.StageJobFailed, job, jobErr.Message)
	metrics.JobFinished(string(job.Type), string(job.Status))
}

// Cancel removes a job still waiting in the pending queue. It reports
// failure (not an error) for in-flight or terminal jobs.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) bool {
	s.mu.Lock()
	idx := -1
	for i, job := range s.queue {
		if job.ID == jobID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	job := s.queue[idx]
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	metrics.SetQueueDepth(len(s.queue))
	done := s.clock.Now()
	job.Status = harvest.JobStatusCancelled
	job.CompletedAt = &done
	s.mu.Unlock()

	s.persist(ctx, job)
	s.emit(notify.StageJobCancelled, job, "")
	metrics.JobFinished(string(job.Type), string(job.Status))
	return true
}

// GetStatus reports a job's current snapshot, consulting memory first and
// falling back to the persisted store for jobs no longer loaded.
func (s *Scheduler) GetStatus(ctx context.Context, jobID string) (harvest.Job, error) {
	s.mu.Lock()
	if job, ok := s.inflight[jobID]; ok {
		snapshot := *job
		s.mu.Unlock()
		return snapshot, nil
	}
	for _, job := range s.queue {
		if job.ID == jobID {
			snapshot := *job
			s.mu.Unlock()
			return snapshot, nil
		}
	}
	s.mu.Unlock()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			return harvest.Job{}, harvest.ErrNotFound
		}
		return harvest.Job{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return job, nil
}

// GetStats summarizes load. Waiting and active come from memory;
// completed and failed from the store, which is authoritative for
// history.
func (s *Scheduler) GetStats(ctx context.Context) (harvest.Stats, error) {
	s.mu.Lock()
	stats := harvest.Stats{
		Waiting: len(s.queue),
		Active:  len(s.inflight),
	}
	s.mu.Unlock()

	completed, err := s.store.CountJobsByStatus(ctx, harvest.JobStatusCompleted)
	if err != nil {
		return harvest.Stats{}, fmt.Errorf("count completed jobs: %w", err)
	}
	failed, err := s.store.CountJobsByStatus(ctx, harvest.JobStatusFailed)
	if err != nil {
		return harvest.Stats{}, fmt.Errorf("count failed jobs: %w", err)
	}
	stats.Completed = completed
	stats.Failed = failed
	return stats, nil
}

// Bootstrap reloads persisted pending jobs into the queue. Jobs stuck in
// processing from a prior crash are deliberately left stranded; the
// cleanup job reconciles them on operator demand.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	jobs, err := s.store.FindPendingJobs(ctx, s.cfg.BootstrapLimit)
	if err != nil {
		return fmt.Errorf("load pending jobs: %w", err)
	}
	s.mu.Lock()
	for i := range jobs {
		job := jobs[i]
		s.queue = append(s.queue, &job)
	}
	metrics.SetQueueDepth(len(s.queue))
	s.mu.Unlock()
	if len(jobs) > 0 {
		s.logger.Info("bootstrapped pending jobs", zap.Int("count", len(jobs)))
	}
	return nil
}

// ActiveIDs snapshots the ids currently in flight. The cleanup handler
// uses it to avoid reconciling live jobs.
func (s *Scheduler) ActiveIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.inflight))
	for id := range s.inflight {
		out[id] = struct{}{}
	}
	return out
}

func (s *Scheduler) persist(ctx context.Context, job *harvest.Job) {
	if err := s.store.UpdateJob(ctx, *job); err != nil {
		s.logger.Error("persist job state",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) emit(stage notify.Stage, job *harvest.Job, note string) {
	if s.hub == nil {
		return
	}
	s.hub.Emit(notify.Event{
		Stage:    stage,
		JobID:    job.ID,
		JobType:  job.Type,
		Status:   job.Status,
		Progress: job.Progress,
		Note:     note,
		TS:       s.clock.Now(),
	})
}

func backoffDelay(base, ceiling time.Duration, attempts int) time.Duration {
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	return delay
}

func reduceError(err error) *harvest.JobError {
	var crawlErr *harvest.CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.JobError()
	}
	// Only the message survives; error graphs never reach the store.
	return &harvest.JobError{Message: err.Error()}
}

func validatePayload(jobType harvest.JobType, payload harvest.JobPayload) error {
	switch jobType {
	case harvest.JobSaveArticle, harvest.JobSavePaste:
		if payload.SourceID == "" {
			return &harvest.ValidationError{Field: "source_id", Reason: "must not be empty"}
		}
	case harvest.JobBatchSave:
		if !payload.Kind.Valid() {
			return &harvest.ValidationError{Field: "kind", Reason: "must be article or paste"}
		}
		if len(payload.SourceIDs) == 0 {
			return &harvest.ValidationError{Field: "source_ids", Reason: "must not be empty"}
		}
	case harvest.JobCleanup:
	}
	return nil
}
