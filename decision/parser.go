package decision

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/stewardhq/steward/errors"
)

// Language models wrap JSON in markdown fences more often than not
var fencedBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// Parse extracts and validates a Decision from raw engine output.
//
// The engine is prompted to return a single JSON object, optionally inside a
// markdown code fence. Parse tolerates surrounding prose but never repairs:
// output with no JSON object, or a JSON object that fails validation, is
// rejected with ErrMalformedDecision and the job fails.
func Parse(raw string) (*Decision, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return nil, errors.Wrap(errors.ErrMalformedDecision, "empty engine output")
	}

	// Prefer the first fenced code block when present
	if m := fencedBlockRegex.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	jsonText, ok := extractJSONObject(candidate)
	if !ok {
		return nil, errors.Wrap(errors.ErrMalformedDecision, "no JSON object in engine output")
	}

	var d Decision
	dec := json.NewDecoder(strings.NewReader(jsonText))
	if err := dec.Decode(&d); err != nil {
		return nil, errors.WithMessage(
			errors.Wrap(errors.ErrMalformedDecision, "invalid JSON"),
			err.Error(),
		)
	}

	if err := validate(&d); err != nil {
		return nil, err
	}

	return &d, nil
}

// extractJSONObject finds the first balanced top-level JSON object in text.
// Brace depth is tracked outside string literals so prose around (or inside)
// the object does not break extraction.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}

	return "", false
}

func validate(d *Decision) error {
	if strings.TrimSpace(d.Title) == "" {
		return errors.Wrap(errors.ErrMalformedDecision, "decision title is empty")
	}
	if strings.TrimSpace(d.Body) == "" {
		return errors.Wrap(errors.ErrMalformedDecision, "decision body is empty")
	}

	switch d.Priority {
	case "":
		d.Priority = PriorityNormal
	case PriorityLow, PriorityNormal, PriorityHigh:
	default:
		return errors.Wrapf(errors.ErrMalformedDecision, "invalid priority %q", d.Priority)
	}

	for i, cta := range d.CTAs {
		if strings.TrimSpace(cta.Label) == "" || strings.TrimSpace(cta.Link) == "" {
			return errors.Wrapf(errors.ErrMalformedDecision, "CTA %d missing label or link", i)
		}
	}

	for i, a := range d.Actions {
		if strings.TrimSpace(a.Domain) == "" || strings.TrimSpace(a.ActionType) == "" {
			return errors.Wrapf(errors.ErrMalformedDecision, "action %d missing domain or action type", i)
		}
	}

	for i, f := range d.FollowUps {
		if strings.TrimSpace(f.JobType) == "" {
			return errors.Wrapf(errors.ErrMalformedDecision, "follow-up %d missing job type", i)
		}
		if f.DelayMinutes <= 0 {
			return errors.Wrapf(errors.ErrMalformedDecision, "follow-up %d has non-positive delay %d", i, f.DelayMinutes)
		}
	}

	return nil
}
