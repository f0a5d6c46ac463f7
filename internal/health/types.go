// Package health probes the external tools and services analysis depends on
// and caches the answer for the health endpoint.
package health

import "time"

// Capabilities reports which parts of the analysis pipeline can run.
type Capabilities struct {
	FFmpeg  DepInfo `json:"ffmpeg"`
	FFprobe DepInfo `json:"ffprobe"`
	Backend DepInfo `json:"backend"`

	// ClipAnalysis is true when the whole-clip stages can reach the backend.
	ClipAnalysis bool `json:"clip_analysis"`
	// FrameFallback is true when frames can be extracted locally.
	FrameFallback bool      `json:"frame_fallback"`
	ProbedAt      time.Time `json:"probed_at"`
}

// DepInfo is the availability of one dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AllOK reports whether every dependency is available.
func (c *Capabilities) AllOK() bool {
	return c.FFmpeg.Available && c.FFprobe.Available && c.Backend.Available
}
