// Package harvest defines core types shared across subsystems.
package harvest

import (
	"fmt"
	"time"
)

// Kind identifies which class of remote document a target points at.
type Kind string

// Supported content kinds.
const (
	KindArticle Kind = "article"
	KindPaste   Kind = "paste"
)

// Valid reports whether the kind is one of the supported values.
func (k Kind) Valid() bool {
	return k == KindArticle || k == KindPaste
}

// Target identifies one unit of remote content. Immutable once created.
type Target struct {
	Kind     Kind   `json:"kind"`
	SourceID string `json:"source_id"`
}

// SourceURL derives the canonical upstream URL for the target.
func (t Target) SourceURL(baseURL string) string {
	return fmt.Sprintf("%s/%s/%s", baseURL, t.Kind, t.SourceID)
}

// ContentRecord is the normalized shape produced by the parser regardless
// of which extraction tier succeeded.
type ContentRecord struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags"`
	PublishedAt time.Time `json:"published_at"`
}

// FailureClass is the closed set of application-level outcomes explaining
// why a crawl did not yield usable content. Values travel as data, never
// as raised errors.
type FailureClass string

// Failure classifications.
const (
	FailureAuthRequired       FailureClass = "auth_required"
	FailureAuthExpired        FailureClass = "auth_expired"
	FailureChallengeRequired  FailureClass = "challenge_required"
	FailureBlocked            FailureClass = "blocked"
	FailureNotFound           FailureClass = "not_found"
	FailureUnexpectedRedirect FailureClass = "unexpected_redirect"
	FailureHTTPError          FailureClass = "http_error"
	FailureParseFailed        FailureClass = "parse_failed"
)

// CrawlOutcome is the result of one orchestration attempt. Ephemeral; the
// orchestrator maps it onto entity fields before anything is persisted.
type CrawlOutcome struct {
	Success    bool
	Record     *ContentRecord
	Class      FailureClass
	Message    string
	StatusCode int
}

// EntityStatus reflects the most recent crawl attempt for an entity.
type EntityStatus string

// Entity status values.
const (
	EntityPending    EntityStatus = "pending"
	EntityProcessing EntityStatus = "processing"
	EntityCompleted  EntityStatus = "completed"
	EntityFailed     EntityStatus = "failed"
)

// ContentEntity is the persisted record for a crawl target, keyed uniquely
// by (kind, source id). Re-crawls update in place, never duplicate.
type ContentEntity struct {
	Kind        Kind         `json:"kind"`
	SourceID    string       `json:"source_id"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	AuthorID    string       `json:"author_id"`
	AuthorName  string       `json:"author_name"`
	Category    string       `json:"category"`
	Tags        []string     `json:"tags"`
	PublishedAt time.Time    `json:"published_at"`
	WordCount   int          `json:"word_count"`
	ReadingTime int          `json:"reading_time"`
	HasImages   bool         `json:"has_images"`
	HasCode     bool         `json:"has_code"`
	SnapshotURI string       `json:"snapshot_uri,omitempty"`
	Status      EntityStatus `json:"status"`
	FailureText string       `json:"failure_text,omitempty"`
	CrawledAt   time.Time    `json:"crawled_at"`
}

// EntityFields is the mutable projection applied by an upsert.
type EntityFields struct {
	Title       string
	Body        string
	AuthorID    string
	AuthorName  string
	Category    string
	Tags        []string
	PublishedAt time.Time
	WordCount   int
	ReadingTime int
	HasImages   bool
	HasCode     bool
	SnapshotURI string
	Status      EntityStatus
	FailureText string
	CrawledAt   time.Time
}

// JobType selects the handler a scheduled job runs.
type JobType string

// Supported job types.
const (
	JobSaveArticle JobType = "save_article"
	JobSavePaste   JobType = "save_paste"
	JobBatchSave   JobType = "batch_save"
	JobCleanup     JobType = "cleanup"
)

// JobStatus represents the lifecycle state of a scheduled job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobPayload carries the job-type-specific inputs. SourceIDs is used by
// batch jobs; single-target jobs use SourceID.
type JobPayload struct {
	Kind      Kind     `json:"kind,omitempty"`
	SourceID  string   `json:"source_id,omitempty"`
	SourceIDs []string `json:"source_ids,omitempty"`
	Cookie    string   `json:"cookie,omitempty"`
}

// Equal reports whether two payloads describe the same unit of work. Used
// by the scheduler to suppress duplicate retries. Cookies are identity
// material, not work identity, so they are excluded.
func (p JobPayload) Equal(other JobPayload) bool {
	if p.Kind != other.Kind || p.SourceID != other.SourceID {
		return false
	}
	if len(p.SourceIDs) != len(other.SourceIDs) {
		return false
	}
	for i := range p.SourceIDs {
		if p.SourceIDs[i] != other.SourceIDs[i] {
			return false
		}
	}
	return true
}

// JobError is the reduced {message, classification} projection persisted
// for failed jobs. Full error graphs never cross into stored state.
type JobError struct {
	Message string       `json:"message"`
	Class   FailureClass `json:"class,omitempty"`
}

// Job is one unit of schedulable work.
type Job struct {
	ID          string         `json:"id"`
	Type        JobType        `json:"type"`
	Payload     JobPayload     `json:"payload"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	NotBefore   time.Time      `json:"not_before,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *JobError      `json:"error,omitempty"`
}

// Stats summarizes scheduler load for callers.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
