package harvest

import (
	"context"
	"io"
	"time"
)

// EntityStore persists content entities keyed by (kind, source id).
type EntityStore interface {
	FindEntity(ctx context.Context, kind Kind, sourceID string) (ContentEntity, error)
	UpsertEntity(ctx context.Context, kind Kind, sourceID string, fields EntityFields) error
}

// JobStore persists scheduled job state transitions.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	FindPendingJobs(ctx context.Context, limit int) ([]Job, error)
	FindJobsByStatus(ctx context.Context, status JobStatus, limit int) ([]Job, error)
	CountJobsByStatus(ctx context.Context, status JobStatus) (int, error)
	PruneTerminalJobs(ctx context.Context, before time.Time) (int, error)
}

// BlobStore writes raw response snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
