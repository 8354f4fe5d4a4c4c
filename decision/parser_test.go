package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/errors"
)

const validJSON = `{
  "title": "Weekly check-in",
  "body": "Three tasks are overdue.",
  "priority": "high",
  "ctas": [{"label": "Open tasks", "link": "https://app.example.com/tasks"}],
  "actions": [{"domain": "tasks", "action_type": "reschedule", "title": "Push deadline", "payload": {"task_id": "t1"}}],
  "follow_ups": [{"job_type": "tasks_nudge", "delay_minutes": 240}]
}`

func TestParse(t *testing.T) {
	t.Run("bare JSON object", func(t *testing.T) {
		d, err := Parse(validJSON)
		require.NoError(t, err)
		assert.Equal(t, "Weekly check-in", d.Title)
		assert.Equal(t, PriorityHigh, d.Priority)
		require.Len(t, d.CTAs, 1)
		assert.Equal(t, "Open tasks", d.CTAs[0].Label)
		require.Len(t, d.Actions, 1)
		assert.Equal(t, "tasks", d.Actions[0].Domain)
		require.Len(t, d.FollowUps, 1)
		assert.Equal(t, 240, d.FollowUps[0].DelayMinutes)
	})

	t.Run("fenced code block", func(t *testing.T) {
		raw := "Here is my decision:\n```json\n" + validJSON + "\n```\nLet me know."
		d, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "Weekly check-in", d.Title)
	})

	t.Run("fence without language tag", func(t *testing.T) {
		raw := "```\n" + validJSON + "\n```"
		d, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "Weekly check-in", d.Title)
	})

	t.Run("JSON surrounded by prose", func(t *testing.T) {
		raw := "Sure! Based on the snapshot, I think:\n" + validJSON + "\nHope that helps."
		d, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "Weekly check-in", d.Title)
	})

	t.Run("braces inside string literals", func(t *testing.T) {
		raw := `{"title": "Braces {inside} strings", "body": "also \"escapes\" and }"}`
		d, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "Braces {inside} strings", d.Title)
	})

	t.Run("missing priority defaults to normal", func(t *testing.T) {
		d, err := Parse(`{"title": "t", "body": "b"}`)
		require.NoError(t, err)
		assert.Equal(t, PriorityNormal, d.Priority)
	})
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty output", ""},
		{"prose only", "I could not decide anything useful this cycle, sorry."},
		{"unbalanced braces", `{"title": "t", "body": "b"`},
		{"empty title", `{"title": "", "body": "b"}`},
		{"whitespace title", `{"title": "  ", "body": "b"}`},
		{"empty body", `{"title": "t", "body": ""}`},
		{"invalid priority", `{"title": "t", "body": "b", "priority": "urgent"}`},
		{"CTA without link", `{"title": "t", "body": "b", "ctas": [{"label": "x", "link": ""}]}`},
		{"action without domain", `{"title": "t", "body": "b", "actions": [{"domain": "", "action_type": "x"}]}`},
		{"follow-up zero delay", `{"title": "t", "body": "b", "follow_ups": [{"job_type": "x", "delay_minutes": 0}]}`},
		{"follow-up negative delay", `{"title": "t", "body": "b", "follow_ups": [{"job_type": "x", "delay_minutes": -5}]}`},
		{"follow-up without type", `{"title": "t", "body": "b", "follow_ups": [{"job_type": "", "delay_minutes": 10}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.raw)
			require.Error(t, err)
			assert.Nil(t, d)
			assert.True(t, errors.Is(err, errors.ErrMalformedDecision),
				"expected ErrMalformedDecision, got %v", err)
		})
	}
}
