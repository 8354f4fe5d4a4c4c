package sched

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/stewardhq/steward/errors"
)

// Store handles persistence of agent jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new agent job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, account_id, type, status, run_at, context, result, error, claimed_at, completed_at, created_at, updated_at`

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO agent_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result := sql.NullString{String: string(job.Result), Valid: len(job.Result) > 0}
	errMsg := sql.NullString{String: job.Error, Valid: job.Error != ""}

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.AccountID,
		job.Type,
		job.Status,
		job.RunAt,
		string(job.Context),
		result,
		errMsg,
		job.ClaimedAt,
		job.CompletedAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// FetchDueJobs returns up to limit queued jobs whose run_at has passed,
// oldest first. Fetching does not claim: callers must Claim each job before
// running it.
func (s *Store) FetchDueJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM agent_jobs
		WHERE status = ? AND run_at <= ?
		ORDER BY run_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, JobStatusQueued, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch due jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// Claim atomically transitions a job from queued to running. Returns false
// when another worker claimed it first (or it is no longer queued). This
// conditional update is the sole concurrency control for job execution.
func (s *Store) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE agent_jobs
		SET status = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := s.db.ExecContext(ctx, query, JobStatusRunning, now.UTC(), now.UTC(), id, JobStatusQueued)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read claim result")
	}

	return affected == 1, nil
}

// Finalize transitions a running job to a terminal status. Terminal statuses
// are monotonic: finalizing a job already in the same terminal status is a
// no-op, and a job in a different terminal status is left untouched.
func (s *Store) Finalize(ctx context.Context, id string, status JobStatus, result json.RawMessage, errMsg string) error {
	if !status.IsTerminal() {
		return errors.Newf("cannot finalize job %s to non-terminal status %s", id, status)
	}

	query := `
		UPDATE agent_jobs
		SET status = ?, result = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	now := time.Now().UTC()
	resultVal := sql.NullString{String: string(result), Valid: len(result) > 0}
	errVal := sql.NullString{String: errMsg, Valid: errMsg != ""}

	res, err := s.db.ExecContext(ctx, query, status, resultVal, errVal, now, now, id, JobStatusRunning)
	if err != nil {
		return errors.Wrapf(err, "failed to finalize job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read finalize result")
	}
	if affected == 1 {
		return nil
	}

	// Not running anymore. Idempotent when already in the requested terminal
	// status; anything else is a protocol violation worth surfacing.
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == status {
		return nil
	}
	return errors.Newf("job %s is %s, cannot finalize to %s", id, job.Status, status)
}

// ReapAbandoned re-queues running jobs claimed before the cutoff. Returns the
// number of jobs recovered. A reaped job may have already produced side
// effects; re-running is accepted over losing the job.
func (s *Store) ReapAbandoned(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		UPDATE agent_jobs
		SET status = ?, claimed_at = NULL, updated_at = ?
		WHERE status = ? AND claimed_at < ?
	`

	res, err := s.db.ExecContext(ctx, query, JobStatusQueued, time.Now().UTC(), JobStatusRunning, olderThan.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to reap abandoned jobs")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read reap result")
	}

	return int(affected), nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM agent_jobs WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}

	return job, nil
}

// ListJobs returns jobs filtered by status, newest first. An empty status
// returns jobs in any status.
func (s *Store) ListJobs(ctx context.Context, status JobStatus, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM agent_jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListJobsByParent returns follow-up jobs created by the given parent job
func (s *Store) ListJobsByParent(ctx context.Context, parentID string) ([]*Job, error) {
	// Context is JSON; the parent link lives at $.parent_job_id
	query := `
		SELECT ` + jobColumns + `
		FROM agent_jobs
		WHERE json_extract(context, '$.parent_job_id') = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list jobs for parent %s", parentID)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// scanner abstracts *sql.Row and *sql.Rows for job scanning
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var contextStr string
	var result, errMsg sql.NullString
	var claimedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.AccountID,
		&job.Type,
		&job.Status,
		&job.RunAt,
		&contextStr,
		&result,
		&errMsg,
		&claimedAt,
		&completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Context = json.RawMessage(contextStr)
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}
