// Package snapshot assembles the point-in-time account context handed to the
// decision engine.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/errors"
)

// Document is an opaque snapshot of one account's current state. The
// scheduler embeds it in the engine prompt verbatim; fields exist for tests
// and debugging, not for pipeline logic.
type Document struct {
	AccountID        string       `json:"account_id"`
	TakenAt          time.Time    `json:"taken_at"`
	Balance          float64      `json:"balance"`
	OpenActions      int          `json:"open_actions"`
	RecentOutcomes   []JobOutcome `json:"recent_outcomes,omitempty"`
	PendingFollowUps int          `json:"pending_follow_ups"`
}

// JobOutcome is one recently completed job, for engine context
type JobOutcome struct {
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completed_at"`
}

// JSON renders the document for prompt embedding
func (d *Document) JSON() (string, error) {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal snapshot")
	}
	return string(b), nil
}

// Provider produces account snapshots
type Provider interface {
	GetSnapshot(ctx context.Context, accountID string) (*Document, error)
}

// StoreProvider builds snapshots from the steward database. Individual
// sub-queries degrade to zero values rather than failing the snapshot: a
// missing budget row or empty job history should not block an agent cycle.
type StoreProvider struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStoreProvider creates a SQL-backed snapshot provider
func NewStoreProvider(db *sql.DB, logger *zap.SugaredLogger) *StoreProvider {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StoreProvider{db: db, logger: logger}
}

// GetSnapshot assembles the account's current context
func (p *StoreProvider) GetSnapshot(ctx context.Context, accountID string) (*Document, error) {
	doc := &Document{
		AccountID: accountID,
		TakenAt:   time.Now().UTC(),
	}

	if err := p.db.QueryRowContext(ctx,
		`SELECT balance FROM account_budgets WHERE account_id = ?`, accountID,
	).Scan(&doc.Balance); err != nil {
		p.logger.Debugw("Snapshot: no balance", "account_id", accountID, "error", err)
	}

	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM proposed_actions WHERE account_id = ? AND status = 'proposed'`, accountID,
	).Scan(&doc.OpenActions); err != nil {
		p.logger.Debugw("Snapshot: no open actions count", "account_id", accountID, "error", err)
	}

	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_jobs
		 WHERE account_id = ? AND status = 'queued'
		   AND json_extract(context, '$.parent_job_id') IS NOT NULL`, accountID,
	).Scan(&doc.PendingFollowUps); err != nil {
		p.logger.Debugw("Snapshot: no pending follow-ups count", "account_id", accountID, "error", err)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT type, status, completed_at
		 FROM agent_jobs
		 WHERE account_id = ? AND completed_at IS NOT NULL
		 ORDER BY completed_at DESC
		 LIMIT 5`, accountID,
	)
	if err != nil {
		p.logger.Debugw("Snapshot: no recent outcomes", "account_id", accountID, "error", err)
		return doc, nil
	}
	defer rows.Close()

	for rows.Next() {
		var o JobOutcome
		if err := rows.Scan(&o.Type, &o.Status, &o.CompletedAt); err != nil {
			p.logger.Debugw("Snapshot: skipping outcome row", "account_id", accountID, "error", err)
			continue
		}
		doc.RecentOutcomes = append(doc.RecentOutcomes, o)
	}

	return doc, nil
}
