// Package inference talks to the external vision/language backend: whole-clip
// analysis, per-window frame analysis and report rendering.
package inference

import "context"

// ClipParams are the query parameters of a whole-clip analysis call.
type ClipParams struct {
	TargetFPS       int
	WindowSec       float64
	FramesPerWindow int
	MaxHighlights   int
	Domain          string // omitted from the request when empty
}

// ClipResponse is the backend's answer to analyze_video.
type ClipResponse struct {
	Status         string       `json:"status"`
	InferredDomain string       `json:"inferred_domain"`
	HasEvent       bool         `json:"has_event"`
	Events         []ClipEvent  `json:"events"`
	Timeline       []ClipWindow `json:"timeline"`
	Metadata       ClipMetadata `json:"metadata"`
}

type ClipEvent struct {
	EventType         string   `json:"event_type"`
	IntervalStartSec  float64  `json:"interval_start_sec"`
	IntervalEndSec    float64  `json:"interval_end_sec"`
	Description       string   `json:"description"`
	HighlightStartSec *float64 `json:"highlight_start_sec,omitempty"`
	HighlightEndSec   *float64 `json:"highlight_end_sec,omitempty"`
}

type ClipWindow struct {
	WindowIndex    int      `json:"window_idx"`
	TimestampSec   float64  `json:"timestamp_sec"`
	IntervalEndSec *float64 `json:"interval_end_sec,omitempty"`
	Label          string   `json:"label"`
	HasEvent       bool     `json:"has_event"`
	Caption        string   `json:"caption"`
	RiskScore      float64  `json:"risk_score"`
	EventType      string   `json:"event_type"`
}

type ClipMetadata struct {
	DurationSec float64 `json:"duration_sec"`
	NumFrames   int     `json:"num_frames"`
	NumWindows  int     `json:"num_windows"`
}

// ClipAnalyzer runs the whole-clip stages.
type ClipAnalyzer interface {
	AnalyzeClip(ctx context.Context, videoPath string, params ClipParams) (*ClipResponse, error)
}

// FrameAnalyzer judges a handful of frames from one window.
type FrameAnalyzer interface {
	AnalyzeFrames(ctx context.Context, images []string, prompt string) (*Verdict, error)
}

// ReportGenerator renders a stored analysis into a document.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, analysisJSON, videoPath, format string) ([]byte, error)
}
