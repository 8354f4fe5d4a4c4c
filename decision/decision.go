// Package decision defines the output contract between the decision engine
// and the effect applier, and the parser that enforces it.
package decision

// Priority levels a decision may carry
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Decision is the structured outcome of one agent cycle. The engine returns
// free text; only a decision that parses and validates gets applied.
type Decision struct {
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Priority  string           `json:"priority,omitempty"`
	CTAs      []CTA            `json:"ctas,omitempty"`
	Actions   []ProposedAction `json:"actions,omitempty"`
	FollowUps []FollowUp       `json:"follow_ups,omitempty"`
}

// CTA is a call-to-action attached to a dispatched decision
type CTA struct {
	Label string `json:"label"`
	Link  string `json:"link"`
}

// ProposedAction is a side effect the agent wants a human to approve
type ProposedAction struct {
	Domain     string         `json:"domain"`
	ActionType string         `json:"action_type"`
	Title      string         `json:"title"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// FollowUp schedules a future agent job
type FollowUp struct {
	JobType      string `json:"job_type"`
	DelayMinutes int    `json:"delay_minutes"`
}
