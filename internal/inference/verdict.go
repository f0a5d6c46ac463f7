package inference

import (
	"encoding/json"
	"fmt"
	"strings"
)

const degradedDescriptionRunes = 200

// Verdict is the model's judgement of a single window.
type Verdict struct {
	HasEvent    bool    `json:"has_event"`
	Description string  `json:"description"`
	RiskScore   float64 `json:"risk_score"`

	// Degraded marks a verdict built from unparseable model output.
	Degraded bool `json:"-"`
}

// ParseVerdict decodes the JSON object a vision model was asked to produce.
// Surrounding whitespace and a markdown code fence are tolerated.
func ParseVerdict(text string) (Verdict, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	return v, nil
}

// DegradedVerdict is the stand-in used when the model's text is not valid JSON:
// no event, zero risk, and the first 200 characters of the raw text as description.
func DegradedVerdict(text string) Verdict {
	desc := text
	if r := []rune(text); len(r) > degradedDescriptionRunes {
		desc = string(r[:degradedDescriptionRunes])
	}
	return Verdict{
		HasEvent:    false,
		Description: desc,
		RiskScore:   0,
		Degraded:    true,
	}
}

// verdictFromText parses text, degrading instead of failing.
func verdictFromText(text string) *Verdict {
	v, err := ParseVerdict(text)
	if err != nil {
		v = DegradedVerdict(text)
	}
	return &v
}
