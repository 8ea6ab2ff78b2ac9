package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

// JobStore persists scheduled job state transitions in Postgres.
type JobStore struct {
	pool dbtx
}

// NewJobStore creates a store from an existing pool (or a mock in tests).
func NewJobStore(pool dbtx) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const createJobQuery = `
INSERT INTO jobs (
	id, type, payload, status, progress, attempts, max_attempts,
	created_at, started_at, completed_at, not_before, result, error
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job harvest.Job) error {
	payload, result, jobErr, err := encodeJobFields(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, createJobQuery,
		job.ID,
		string(job.Type),
		payload,
		string(job.Status),
		job.Progress,
		job.Attempts,
		job.MaxAttempts,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		nullableTime(job.NotBefore),
		result,
		jobErr,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const updateJobQuery = `
UPDATE jobs SET
	status = $2,
	progress = $3,
	attempts = $4,
	started_at = $5,
	completed_at = $6,
	not_before = $7,
	result = $8,
	error = $9
WHERE id = $1`

// UpdateJob persists the job's mutable state fields.
func (s *JobStore) UpdateJob(ctx context.Context, job harvest.Job) error {
	_, result, jobErr, err := encodeJobFields(job)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, updateJobQuery,
		job.ID,
		string(job.Status),
		job.Progress,
		job.Attempts,
		job.StartedAt,
		job.CompletedAt,
		nullableTime(job.NotBefore),
		result,
		jobErr,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrNotFound
	}
	return nil
}

const selectJobColumns = `
SELECT id, type, payload, status, progress, attempts, max_attempts,
       created_at, started_at, completed_at, not_before, result, error
FROM jobs`

// GetJob loads one job by id, or harvest.ErrNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (harvest.Job, error) {
	row := s.pool.QueryRow(ctx, selectJobColumns+` WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.Job{}, harvest.ErrNotFound
		}
		return harvest.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindPendingJobs returns up to limit pending jobs, oldest first.
func (s *JobStore) FindPendingJobs(ctx context.Context, limit int) ([]harvest.Job, error) {
	return s.FindJobsByStatus(ctx, harvest.JobStatusPending, limit)
}

// FindJobsByStatus returns up to limit jobs in the status, oldest first.
func (s *JobStore) FindJobsByStatus(ctx context.Context, status harvest.JobStatus, limit int) ([]harvest.Job, error) {
	rows, err := s.pool.Query(ctx, selectJobColumns+` WHERE status = $1 ORDER BY created_at LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs by status: %w", err)
	}
	defer rows.Close()

	var jobs []harvest.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// CountJobsByStatus counts jobs currently in the status.
func (s *JobStore) CountJobsByStatus(ctx context.Context, status harvest.JobStatus) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1`, string(status))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// PruneTerminalJobs deletes terminal jobs completed before the cutoff.
func (s *JobStore) PruneTerminalJobs(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status IN ('completed','failed','cancelled') AND completed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func encodeJobFields(job harvest.Job) ([]byte, []byte, []byte, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode job payload: %w", err)
	}
	var result []byte
	if job.Result != nil {
		if result, err = json.Marshal(job.Result); err != nil {
			return nil, nil, nil, fmt.Errorf("encode job result: %w", err)
		}
	}
	var jobErr []byte
	if job.Error != nil {
		if jobErr, err = json.Marshal(job.Error); err != nil {
			return nil, nil, nil, fmt.Errorf("encode job error: %w", err)
		}
	}
	return payload, result, jobErr, nil
}

func scanJob(row pgx.Row) (harvest.Job, error) {
	var (
		job       harvest.Job
		payload   []byte
		result    []byte
		jobErr    []byte
		notBefore *time.Time
	)
	err := row.Scan(
		&job.ID,
		&job.Type,
		&payload,
		&job.Status,
		&job.Progress,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&notBefore,
		&result,
		&jobErr,
	)
	if err != nil {
		return harvest.Job{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return harvest.Job{}, fmt.Errorf("decode job payload: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return harvest.Job{}, fmt.Errorf("decode job result: %w", err)
		}
	}
	if len(jobErr) > 0 {
		job.Error = &harvest.JobError{}
		if err := json.Unmarshal(jobErr, job.Error); err != nil {
			return harvest.Job{}, fmt.Errorf("decode job error: %w", err)
		}
	}
	if notBefore != nil {
		job.NotBefore = *notBefore
	}
	return job, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
