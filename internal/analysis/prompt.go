package analysis

import "fmt"

var domainKeywords = map[string]string{
	DomainTraffic:    "vehicle collision, pedestrian struck, hard braking, road accident, crash",
	DomainProduction: "falling load, safety rule violation, structural collapse, injury",
	DomainViolence:   "fight, punch, assault, aggression, use of a weapon",
}

const genericKeywords = "dangerous event, incident, violation"

const windowPromptTemplate = `You are analysing frames from a video recording (interval %.1fs - %.1fs).
Decide whether the frames show a dangerous event (%s).
Answer strictly in JSON without markdown:
{"has_event": true/false, "description": "short description", "risk_score": 0.0-1.0}`

// Keywords returns the event vocabulary used in prompts for domain.
func Keywords(domain string) string {
	if k, ok := domainKeywords[domain]; ok {
		return k
	}
	return genericKeywords
}

// WindowPrompt builds the frame-analysis prompt for one window.
func WindowPrompt(w WindowSpec, domain string) string {
	return fmt.Sprintf(windowPromptTemplate, w.StartSec, w.EndSec, Keywords(domain))
}
