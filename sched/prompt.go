package sched

import (
	"fmt"

	"github.com/stewardhq/steward/decision"
	"github.com/stewardhq/steward/errors"
	"github.com/stewardhq/steward/snapshot"
)

// systemPrompt pins the output contract. The engine must answer with a single
// JSON object; anything else fails the job rather than being repaired.
const systemPrompt = `You are an autonomous account steward. Given an account snapshot and a job type, decide what (if anything) to tell the account owner and what to schedule next.

Respond with a single JSON object, optionally inside a markdown code fence:

{
  "title": "short headline",
  "body": "the message to deliver",
  "priority": "low" | "normal" | "high",
  "ctas": [{"label": "...", "link": "..."}],
  "actions": [{"domain": "...", "action_type": "...", "title": "...", "payload": {}}],
  "follow_ups": [{"job_type": "...", "delay_minutes": 240}]
}

Rules:
- "title" and "body" are required and must be non-empty.
- Omit "priority" for normal priority.
- "actions" are proposals only; a human approves or rejects them.
- "follow_ups" schedule future jobs; "delay_minutes" must be positive.
- Output nothing except the JSON object.`

// buildUserPrompt renders the job and snapshot into the engine's user turn
func buildUserPrompt(job *Job, snap *snapshot.Document) (string, error) {
	snapJSON, err := snap.JSON()
	if err != nil {
		return "", err
	}

	context := "{}"
	if len(job.Context) > 0 {
		context = string(job.Context)
	}

	return fmt.Sprintf("Job type: %s\nJob context: %s\n\nAccount snapshot:\n%s", job.Type, context, snapJSON), nil
}

// parseDecision applies the output contract to raw engine output
func parseDecision(raw string) (*decision.Decision, error) {
	d, err := decision.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse decision")
	}
	return d, nil
}
