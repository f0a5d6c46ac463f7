package api

import (
	"github.com/sigmaintel/sigma-agent/internal/health"
	"github.com/sigmaintel/sigma-agent/internal/incident"
)

type HealthResponse struct {
	Status       string               `json:"status"`
	Version      string               `json:"version"`
	UptimeS      int64                `json:"uptime_s"`
	Runner       *RunnerResponse      `json:"runner,omitempty"`
	Capabilities *health.Capabilities `json:"capabilities,omitempty"`
}

type RunnerResponse struct {
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
	Active  int  `json:"active"`
}

type UploadResponse struct {
	IncidentID string `json:"incident_id"`
	Status     string `json:"status"`
	StreamURL  string `json:"stream_url"`
}

type IncidentsResponse struct {
	Incidents []*incident.Incident `json:"incidents"`
	Total     int                  `json:"total"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
}

type EventsResponse struct {
	Events []*incident.Event `json:"events"`
}

type TimelineResponse struct {
	Timeline []*incident.TimelineEntry `json:"timeline"`
}

type LogsResponse struct {
	Logs []*incident.LogEntry `json:"logs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// streamClose is the last message of a status stream.
var streamClose = map[string]string{"event": "close"}
