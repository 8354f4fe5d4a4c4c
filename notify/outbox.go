package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/errors"
)

// Outbox is the sqlite Channel: dispatch appends a notification row. A real
// transport (push, email) would wrap this for at-least-once delivery.
type Outbox struct {
	db *sql.DB
}

// NewOutbox creates a database-backed notification channel
func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db}
}

// Send appends the message to the notifications table
func (o *Outbox) Send(ctx context.Context, accountID string, msg Message) error {
	ctas, err := json.Marshal(msg.CTAs)
	if err != nil {
		return errors.Wrap(err, "marshal CTAs")
	}
	if msg.CTAs == nil {
		ctas = []byte("[]")
	}

	now := time.Now().UTC()
	_, err = o.db.ExecContext(ctx,
		`INSERT INTO notifications (id, account_id, job_id, title, body, priority, ctas, delivered_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), accountID, msg.JobID, msg.Title, msg.Body, msg.Priority, string(ctas), now, now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to dispatch notification for account %s", accountID)
	}

	return nil
}

// Notification is a delivered outbox row
type Notification struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	JobID       string     `json:"job_id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Priority    string     `json:"priority"`
	CTAs        []CTA      `json:"ctas,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ListByAccount returns an account's notifications, newest first
func (o *Outbox) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Notification, error) {
	rows, err := o.db.QueryContext(ctx,
		`SELECT id, account_id, job_id, title, body, priority, ctas, delivered_at, created_at
		 FROM notifications
		 WHERE account_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list notifications for account %s", accountID)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		var ctas string
		var delivered sql.NullTime
		if err := rows.Scan(&n.ID, &n.AccountID, &n.JobID, &n.Title, &n.Body, &n.Priority, &ctas, &delivered, &n.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan notification")
		}
		if err := json.Unmarshal([]byte(ctas), &n.CTAs); err != nil {
			return nil, errors.Wrap(err, "failed to decode CTAs")
		}
		if delivered.Valid {
			t := delivered.Time
			n.DeliveredAt = &t
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate notifications")
	}

	return out, nil
}
