package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType enumerates the kinds of background work the queue accepts.
type JobType string

const (
	JobTypeWebsiteAnalysis     JobType = "website_analysis"
	JobTypeContentGeneration   JobType = "content_generation"
	JobTypeNarrativeGeneration JobType = "narrative_generation"
)

// JobTypes lists every job type known to the queue.
var JobTypes = []JobType{
	JobTypeWebsiteAnalysis,
	JobTypeContentGeneration,
	JobTypeNarrativeGeneration,
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Active reports whether the status counts against the one-active-job-per-tenant-and-type rule.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Valid reports whether s is one of the lifecycle states.
func (s JobStatus) Valid() bool {
	return s.Active() || s.Terminal()
}

// Terminal reports whether no automatic transition leaves this status.
// A failed job can still be explicitly retried.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one unit of asynchronous work. The API returns its id on submission;
// the client polls the status endpoint until the status is terminal.
type Job struct {
	ID            uuid.UUID       `db:"id"             json:"id"`
	Type          JobType         `db:"type"           json:"type"`
	Tenant        Tenant          `db:"-"              json:"tenant"`
	Status        JobStatus       `db:"status"         json:"status"`
	Priority      int             `db:"priority"       json:"priority"`
	Attempts      int             `db:"attempts"       json:"attempts"`
	MaxAttempts   int             `db:"max_attempts"   json:"max_attempts"`
	Payload       json.RawMessage `db:"payload"        json:"payload"`
	Result        json.RawMessage `db:"result"         json:"result,omitempty"`
	ErrorMessage  *string         `db:"error_message"  json:"error_message,omitempty"`
	LastErrorAt   *time.Time      `db:"last_error_at"  json:"last_error_at,omitempty"`
	WorkerID      *string         `db:"worker_id"      json:"-"`
	ProgressStep  int             `db:"progress_step"  json:"progress_step"`
	ProgressTotal int             `db:"progress_total" json:"progress_total"`
	ProgressLabel string          `db:"progress_label" json:"progress_label"`
	RunAfter      time.Time       `db:"run_after"      json:"run_after"`
	HeartbeatAt   *time.Time      `db:"heartbeat_at"   json:"-"`
	CreatedAt     time.Time       `db:"created_at"     json:"created_at"`
	StartedAt     *time.Time      `db:"started_at"     json:"started_at,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at"   json:"completed_at,omitempty"`
	UpdatedAt     time.Time       `db:"updated_at"     json:"updated_at"`
}

// Progress is the externally visible progress of a job.
type Progress struct {
	Step  int    `json:"step"`
	Total int    `json:"total"`
	Label string `json:"label"`
}

// Progress returns the job's current progress snapshot.
func (j *Job) Progress() Progress {
	return Progress{Step: j.ProgressStep, Total: j.ProgressTotal, Label: j.ProgressLabel}
}

// ClaimedBy reports whether workerID currently owns the job.
func (j *Job) ClaimedBy(workerID string) bool {
	return j.WorkerID != nil && *j.WorkerID == workerID
}
