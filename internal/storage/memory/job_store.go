package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

// JobStore keeps job records in memory for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]harvest.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]harvest.Job),
	}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job harvest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return &harvest.ValidationError{Field: "id", Reason: "job already exists"}
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob overwrites the persisted job state.
func (s *JobStore) UpdateJob(_ context.Context, job harvest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return harvest.ErrNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID or harvest.ErrNotFound.
func (s *JobStore) GetJob(_ context.Context, jobID string) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.Job{}, harvest.ErrNotFound
	}
	return job, nil
}

// FindPendingJobs returns up to limit pending jobs in creation order.
func (s *JobStore) FindPendingJobs(ctx context.Context, limit int) ([]harvest.Job, error) {
	return s.FindJobsByStatus(ctx, harvest.JobStatusPending, limit)
}

// FindJobsByStatus returns up to limit jobs in the status, oldest first.
func (s *JobStore) FindJobsByStatus(_ context.Context, status harvest.JobStatus, limit int) ([]harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Job
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountJobsByStatus counts jobs currently in the status.
func (s *JobStore) CountJobsByStatus(_ context.Context, status harvest.JobStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, job := range s.jobs {
		if job.Status == status {
			count++
		}
	}
	return count, nil
}

// PruneTerminalJobs deletes terminal jobs completed before the cutoff.
func (s *JobStore) PruneTerminalJobs(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(before) {
			delete(s.jobs, id)
			pruned++
		}
	}
	return pruned, nil
}
