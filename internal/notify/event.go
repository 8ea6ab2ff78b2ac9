// Package notify delivers job lifecycle notifications to registered
// subscribers. The hub is an explicitly constructed object with a bounded
// lifetime; nothing broadcasts process-wide.
package notify

import (
	"errors"
	"time"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

// Stage denotes which lifecycle milestone an Event reports.
type Stage string

// Supported lifecycle stages.
const (
	StageJobAdded      Stage = "job_added"
	StageJobStarted    Stage = "job_started"
	StageJobCompleted  Stage = "job_completed"
	StageJobFailed     Stage = "job_failed"
	StageRetryPlanned  Stage = "retry_scheduled"
	StageJobCancelled  Stage = "job_cancelled"
)

// Event is one lifecycle notification: the job's id, type, and a status
// snapshot at the moment of the transition.
type Event struct {
	Stage    Stage             `json:"stage"`
	JobID    string            `json:"job_id"`
	JobType  harvest.JobType   `json:"job_type"`
	Status   harvest.JobStatus `json:"status"`
	Progress int               `json:"progress"`
	Note     string            `json:"note,omitempty"`
	TS       time.Time         `json:"ts"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.Stage == "" {
		return errors.New("stage is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
