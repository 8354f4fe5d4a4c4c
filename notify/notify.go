// Package notify delivers dispatched agent decisions to the account's channel.
package notify

import (
	"context"
)

// Message is one dispatched decision, ready for delivery
type Message struct {
	JobID    string `json:"job_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Priority string `json:"priority"`
	CTAs     []CTA  `json:"ctas,omitempty"`
}

// CTA mirrors decision.CTA at the delivery boundary
type CTA struct {
	Label string `json:"label"`
	Link  string `json:"link"`
}

// Channel delivers messages to an account. Send returning an error means the
// decision was NOT dispatched: the caller must not debit or finalize done.
type Channel interface {
	Send(ctx context.Context, accountID string, msg Message) error
}
