package sched

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stewardhq/steward/budget"
	"github.com/stewardhq/steward/decision"
	"github.com/stewardhq/steward/errors"
	"github.com/stewardhq/steward/notify"
)

// appliedEffects is the Result payload of a done job
type appliedEffects struct {
	Dispatched       bool    `json:"dispatched"`
	Debited          float64 `json:"debited"`
	Title            string  `json:"title"`
	Priority         string  `json:"priority"`
	ActionsProposed  int     `json:"actions_proposed"`
	ActionsDropped   int     `json:"actions_dropped,omitempty"`
	FollowUpsCreated int     `json:"follow_ups_created"`
	FollowUpsDropped int     `json:"follow_ups_dropped,omitempty"`
}

// applyEffects carries out a parsed decision in order:
//
//  1. dispatch through the channel (an error here aborts before any debit)
//  2. debit the budget and append the ledger entry
//  3. insert proposed actions, best effort
//  4. insert follow-up jobs, best effort
//
// Steps 3 and 4 never demote an already-dispatched job: their failures are
// logged and counted in the result.
func (r *Runner) applyEffects(ctx context.Context, job *Job, d *decision.Decision, cost float64) (json.RawMessage, error) {
	msg := notify.Message{
		JobID:    job.ID,
		Title:    d.Title,
		Body:     d.Body,
		Priority: d.Priority,
	}
	for _, cta := range d.CTAs {
		msg.CTAs = append(msg.CTAs, notify.CTA{Label: cta.Label, Link: cta.Link})
	}

	if err := r.channel.Send(ctx, job.AccountID, msg); err != nil {
		// Nothing reached the account and nothing was spent
		return nil, errors.Wrap(err, "dispatch")
	}

	// Zero-cost accounts dispatch for free: no debit, no ledger entry
	if cost > 0 {
		if err := r.gate.Debit(ctx, job.AccountID, cost, budget.CategoryAgentCycle, job.ID); err != nil {
			// Dispatched but unpaid: a concurrent spend drained the balance
			// between check and debit. Fail the job so the gap is visible.
			return nil, errors.Wrap(err, "debit after dispatch")
		}
	}

	applied := appliedEffects{
		Dispatched: true,
		Debited:    cost,
		Title:      d.Title,
		Priority:   d.Priority,
	}

	for _, a := range d.Actions {
		payload, err := json.Marshal(a.Payload)
		if err != nil {
			r.logger.Warnw("Dropping unmarshalable proposed action",
				"job_id", job.ID, "domain", a.Domain, "action_type", a.ActionType, "error", err)
			applied.ActionsDropped++
			continue
		}
		if _, err := r.actions.Create(ctx, job.AccountID, job.ID, a.Domain, a.ActionType, a.Title, payload); err != nil {
			r.logger.Warnw("Failed to record proposed action",
				"job_id", job.ID, "domain", a.Domain, "action_type", a.ActionType, "error", err)
			applied.ActionsDropped++
			continue
		}
		applied.ActionsProposed++
	}

	for _, f := range d.FollowUps {
		followUp, err := NewFollowUpJob(job, f.JobType, time.Duration(f.DelayMinutes)*time.Minute)
		if err != nil {
			r.logger.Warnw("Dropping invalid follow-up",
				"job_id", job.ID, "follow_up_type", f.JobType, "delay_minutes", f.DelayMinutes, "error", err)
			applied.FollowUpsDropped++
			continue
		}
		if err := r.store.CreateJob(ctx, followUp); err != nil {
			r.logger.Warnw("Failed to create follow-up job",
				"job_id", job.ID, "follow_up_type", f.JobType, "error", err)
			applied.FollowUpsDropped++
			continue
		}
		applied.FollowUpsCreated++
	}

	result, err := json.Marshal(applied)
	if err != nil {
		return nil, errors.Wrap(err, "marshal result")
	}

	return result, nil
}
