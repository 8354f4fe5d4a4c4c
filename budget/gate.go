// Package budget enforces per-account spending limits for agent cycles.
//
// Every dispatched decision debits the account's manager-token balance and
// appends a ledger entry. Balances never go negative: the debit is a
// conditional update guarded on the current balance, so a concurrent spend
// loses the race cleanly instead of overdrawing.
package budget

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/errors"
)

// Ledger entry categories
const (
	CategoryAgentCycle = "agent_cycle"
	CategoryGrant      = "grant"
)

// Verdict is the outcome of a pre-flight budget check
type Verdict struct {
	OK      bool    `json:"ok"`
	Balance float64 `json:"balance"`
	Cost    float64 `json:"cost"`
	Reason  string  `json:"reason,omitempty"`
}

// LedgerEntry is one append-only record of a balance change
type LedgerEntry struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Amount    float64         `json:"amount"` // negative for debits
	Category  string          `json:"category"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Gate answers "can this account afford a cycle" and records the spend
type Gate struct {
	db *sql.DB
}

// NewGate creates a budget gate backed by the given database
func NewGate(db *sql.DB) *Gate {
	return &Gate{db: db}
}

// CheckAndReserve reads the account's balance and per-cycle cost and decides
// whether a cycle may proceed. It does not debit: the actual spend happens
// after dispatch via Debit, guarded against concurrent drains.
func (g *Gate) CheckAndReserve(ctx context.Context, accountID string) (Verdict, error) {
	var balance, cost float64
	err := g.db.QueryRowContext(ctx,
		`SELECT balance, cost_per_cycle FROM account_budgets WHERE account_id = ?`,
		accountID,
	).Scan(&balance, &cost)
	if errors.Is(err, sql.ErrNoRows) {
		return Verdict{}, errors.Wrapf(errors.ErrNotFound, "no budget for account %s", accountID)
	}
	if err != nil {
		return Verdict{}, errors.Wrapf(err, "failed to read budget for account %s", accountID)
	}

	if balance < cost {
		return Verdict{OK: false, Balance: balance, Cost: cost, Reason: "insufficient budget"}, nil
	}

	return Verdict{OK: true, Balance: balance, Cost: cost}, nil
}

// Debit subtracts amount from the account's balance and appends a ledger
// entry, in one transaction. Returns ErrInsufficientBudget when the balance
// cannot cover the amount, leaving both tables untouched.
func (g *Gate) Debit(ctx context.Context, accountID string, amount float64, category, jobID string) error {
	if amount <= 0 {
		return errors.Newf("debit amount must be positive, got %v", amount)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin debit transaction")
	}
	defer tx.Rollback()

	// Guarded decrement keeps the balance non-negative under concurrent spends
	res, err := tx.ExecContext(ctx,
		`UPDATE account_budgets
		 SET balance = balance - ?, updated_at = ?
		 WHERE account_id = ? AND balance >= ?`,
		amount, time.Now().UTC(), accountID, amount,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to debit account %s", accountID)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read debit result")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrInsufficientBudget, "account %s cannot cover %v", accountID, amount)
	}

	metadata, err := json.Marshal(map[string]string{"job_id": jobID})
	if err != nil {
		return errors.Wrap(err, "failed to marshal ledger metadata")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, account_id, amount, category, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), accountID, -amount, category, string(metadata), time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to append ledger entry for account %s", accountID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit debit")
	}

	return nil
}

// Grant adds amount to the account's balance (creating the budget row if
// needed) and appends a grant ledger entry.
func (g *Gate) Grant(ctx context.Context, accountID string, amount float64) error {
	if amount <= 0 {
		return errors.Newf("grant amount must be positive, got %v", amount)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin grant transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO account_budgets (account_id, balance, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at`,
		accountID, amount, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to grant budget to account %s", accountID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, account_id, amount, category, metadata, created_at)
		 VALUES (?, ?, ?, ?, '{}', ?)`,
		uuid.New().String(), accountID, amount, CategoryGrant, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to append grant ledger entry for account %s", accountID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit grant")
	}

	return nil
}

// Balance returns the account's current balance
func (g *Gate) Balance(ctx context.Context, accountID string) (float64, error) {
	var balance float64
	err := g.db.QueryRowContext(ctx,
		`SELECT balance FROM account_budgets WHERE account_id = ?`,
		accountID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(errors.ErrNotFound, "no budget for account %s", accountID)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read balance for account %s", accountID)
	}
	return balance, nil
}

// SetCostPerCycle updates the per-cycle cost for an account
func (g *Gate) SetCostPerCycle(ctx context.Context, accountID string, cost float64) error {
	if cost < 0 {
		return errors.Newf("cost per cycle must be non-negative, got %v", cost)
	}
	_, err := g.db.ExecContext(ctx,
		`UPDATE account_budgets SET cost_per_cycle = ?, updated_at = ? WHERE account_id = ?`,
		cost, time.Now().UTC(), accountID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to set cost for account %s", accountID)
	}
	return nil
}

// ListLedger returns an account's ledger entries, newest first
func (g *Gate) ListLedger(ctx context.Context, accountID string, limit int) ([]*LedgerEntry, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, account_id, amount, category, metadata, created_at
		 FROM ledger_entries
		 WHERE account_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list ledger for account %s", accountID)
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var metadata string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Category, &metadata, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan ledger entry")
		}
		e.Metadata = json.RawMessage(metadata)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate ledger entries")
	}

	return entries, nil
}
