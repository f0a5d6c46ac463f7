package incident

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	StatusSaved      = "SAVED"
	StatusProcessing = "PROCESSING"
	StatusDone       = "DONE"
	StatusError      = "ERROR"
)

// Log actions.
const (
	ActionUploaded        = "UPLOADED"
	ActionProcessingStart = "PROCESSING_START"
	ActionDone            = "DONE"
	ActionError           = "ERROR"
)

// EventConfidence is stored on every event. The backends do not report a
// per-event confidence.
const EventConfidence = 1.0

type Incident struct {
	ID               string          `json:"id"`
	VideoPath        string          `json:"-"`
	OriginalFilename string          `json:"original_filename,omitempty"`
	ContentType      string          `json:"content_type,omitempty"`
	SizeBytes        int64           `json:"size_bytes"`
	Domain           string          `json:"domain,omitempty"`
	Status           string          `json:"status"`
	InferredDomain   string          `json:"inferred_domain,omitempty"`
	HasEvent         bool            `json:"has_event"`
	DurationSec      float64         `json:"duration_sec"`
	NumFrames        int             `json:"num_frames"`
	NumWindows       int             `json:"num_windows"`
	Stage            int             `json:"stage,omitempty"`
	ModelVersion     string          `json:"model_version,omitempty"`
	PromptVersion    string          `json:"prompt_version,omitempty"`
	AnalysisJSON     json.RawMessage `json:"analysis,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Analysed reports whether a full analysis has been stored.
func (i *Incident) Analysed() bool {
	return len(i.AnalysisJSON) > 0
}

// Finished reports whether the incident reached DONE or ERROR.
func (i *Incident) Finished() bool {
	return i.Status == StatusDone || i.Status == StatusError
}

type Event struct {
	ID                string    `json:"id"`
	IncidentID        string    `json:"incident_id"`
	Seq               int       `json:"seq"`
	EventType         string    `json:"event_type"`
	IntervalStartSec  float64   `json:"interval_start_sec"`
	IntervalEndSec    float64   `json:"interval_end_sec"`
	Description       string    `json:"description"`
	HighlightStartSec float64   `json:"highlight_start_sec"`
	HighlightEndSec   float64   `json:"highlight_end_sec"`
	Confidence        float64   `json:"confidence"`
	CreatedAt         time.Time `json:"created_at"`
}

type TimelineEntry struct {
	ID             string  `json:"id"`
	IncidentID     string  `json:"incident_id"`
	WindowIndex    int     `json:"window_idx"`
	TimestampSec   float64 `json:"timestamp_sec"`
	IntervalEndSec float64 `json:"interval_end_sec"`
	Label          string  `json:"label"`
	HasEvent       bool    `json:"has_event"`
	Caption        string  `json:"caption"`
	RiskScore      float64 `json:"risk_score"`
	EventType      string  `json:"event_type"`
}

type LogEntry struct {
	ID            string    `json:"id"`
	IncidentID    string    `json:"incident_id"`
	Action        string    `json:"action"`
	Message       string    `json:"message,omitempty"`
	ModelVersion  string    `json:"model_version,omitempty"`
	PromptVersion string    `json:"prompt_version,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SearchMatch is a timeline window whose caption matched a search prompt.
type SearchMatch struct {
	WindowIndex    int     `json:"window_idx"`
	TimestampSec   float64 `json:"timestamp_sec"`
	IntervalEndSec float64 `json:"interval_end_sec"`
	Caption        string  `json:"caption"`
	RiskScore      float64 `json:"risk_score"`
	EventType      string  `json:"event_type"`
}

type SearchResult struct {
	Prompt       string        `json:"prompt"`
	TotalWindows int           `json:"total_windows"`
	Matches      int           `json:"matches"`
	Results      []SearchMatch `json:"results"`
}

func NewID() string {
	return uuid.NewString()
}
