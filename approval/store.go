// Package approval persists agent-proposed actions awaiting a human verdict.
package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/errors"
)

// ActionStatus represents the approval state of a proposed action
type ActionStatus string

const (
	ActionStatusProposed ActionStatus = "proposed"
	ActionStatusApproved ActionStatus = "approved"
	ActionStatusRejected ActionStatus = "rejected"
)

// Action is a side effect the agent proposed but may not execute itself
type Action struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	JobID      string          `json:"job_id"`
	Domain     string          `json:"domain"`
	ActionType string          `json:"action_type"`
	Title      string          `json:"title"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     ActionStatus    `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Store handles persistence of proposed actions
type Store struct {
	db *sql.DB
}

// NewStore creates a proposed-action store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new proposed action
func (s *Store) Create(ctx context.Context, accountID, jobID, domain, actionType, title string, payload json.RawMessage) (*Action, error) {
	if domain == "" || actionType == "" {
		return nil, errors.New("action domain and type are required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	now := time.Now().UTC()
	action := &Action{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		JobID:      jobID,
		Domain:     domain,
		ActionType: actionType,
		Title:      title,
		Payload:    payload,
		Status:     ActionStatusProposed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO proposed_actions (id, account_id, job_id, domain, action_type, title, payload, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.AccountID, action.JobID, action.Domain, action.ActionType,
		action.Title, string(action.Payload), action.Status, action.CreatedAt, action.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create proposed action")
	}

	return action, nil
}

// ListByAccount returns an account's actions, optionally filtered by status,
// newest first.
func (s *Store) ListByAccount(ctx context.Context, accountID string, status ActionStatus) ([]*Action, error) {
	query := `
		SELECT id, account_id, job_id, domain, action_type, title, payload, status, created_at, updated_at
		FROM proposed_actions
		WHERE account_id = ?
	`
	args := []any{accountID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list actions for account %s", accountID)
	}
	defer rows.Close()

	var actions []*Action
	for rows.Next() {
		var a Action
		var payload string
		if err := rows.Scan(&a.ID, &a.AccountID, &a.JobID, &a.Domain, &a.ActionType, &a.Title, &payload, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan action")
		}
		a.Payload = json.RawMessage(payload)
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate actions")
	}

	return actions, nil
}

// Approve resolves a proposed action as approved
func (s *Store) Approve(ctx context.Context, id string) error {
	return s.resolve(ctx, id, ActionStatusApproved)
}

// Reject resolves a proposed action as rejected
func (s *Store) Reject(ctx context.Context, id string) error {
	return s.resolve(ctx, id, ActionStatusRejected)
}

// resolve transitions an action out of proposed. Only proposed actions can be
// resolved; a second resolution attempt fails.
func (s *Store) resolve(ctx context.Context, id string, status ActionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposed_actions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, time.Now().UTC(), id, ActionStatusProposed,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve action %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read resolve result")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "no proposed action %s", id)
	}

	return nil
}
