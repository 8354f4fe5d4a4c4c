// Package sched provides the agent job store, claim protocol, and scheduler loop.
package sched

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
	JobStatusSkipped JobStatus = "skipped"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusDone,
		JobStatusFailed, JobStatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status never changes again once reached
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusSkipped
}

// Job represents one unit of autonomous agent work.
//
// A job is claimed exactly once, runs one decision pipeline, and lands in a
// terminal status. Completed jobs are retained as the audit trail, never
// deleted.
type Job struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Type        string          `json:"type"` // "checkin", "tasks_nudge", ...
	Status      JobStatus       `json:"status"`
	RunAt       time.Time       `json:"run_at"`            // immutable after creation
	Context     json.RawMessage `json:"context,omitempty"` // job parameters, carries parent_job_id for follow-ups
	Result      json.RawMessage `json:"result,omitempty"`  // outcome detail
	Error       string          `json:"error,omitempty"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// jobContext is the well-known shape of Job.Context for follow-up jobs
type jobContext struct {
	ParentJobID string `json:"parent_job_id,omitempty"`
}

// NewJob creates a queued job for the given account, due at runAt
func NewJob(accountID, jobType string, runAt time.Time, context json.RawMessage) (*Job, error) {
	if accountID == "" {
		return nil, errors.New("account ID is required")
	}
	if jobType == "" {
		return nil, errors.New("job type is required")
	}
	if len(context) == 0 {
		context = json.RawMessage("{}")
	}

	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Type:      jobType,
		Status:    JobStatusQueued,
		RunAt:     runAt.UTC(),
		Context:   context,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewFollowUpJob creates a queued job scheduled delay from now, carrying the
// parent job's ID in its context for the audit trail.
func NewFollowUpJob(parent *Job, jobType string, delay time.Duration) (*Job, error) {
	if delay <= 0 {
		return nil, errors.Newf("follow-up delay must be positive, got %s", delay)
	}

	context, err := json.Marshal(jobContext{ParentJobID: parent.ID})
	if err != nil {
		return nil, errors.Wrap(err, "marshal follow-up context")
	}

	return NewJob(parent.AccountID, jobType, time.Now().UTC().Add(delay), context)
}

// ParentJobID extracts the parent job ID from the job context, if any
func (j *Job) ParentJobID() string {
	if len(j.Context) == 0 {
		return ""
	}
	var ctx jobContext
	if err := json.Unmarshal(j.Context, &ctx); err != nil {
		return ""
	}
	return ctx.ParentJobID
}
