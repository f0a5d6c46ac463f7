package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Escalation holds the tuning knobs of the three analysis stages.
type Escalation struct {
	Coarse   CoarseParams   `yaml:"coarse"`
	Refine   RefinePolicy   `yaml:"refine"`
	Fallback FallbackParams `yaml:"fallback"`
}

// CoarseParams are the baseline whole-clip parameters used by stage 1.
type CoarseParams struct {
	TargetFPS       int     `yaml:"target_fps"`
	WindowSec       float64 `yaml:"window_sec"`
	FramesPerWindow int     `yaml:"frames_per_window"`
	MaxHighlights   int     `yaml:"max_highlights"`
}

// RefinePolicy derives the stage 2 parameters from the stage 1 ones.
type RefinePolicy struct {
	WindowDivisor   float64 `yaml:"window_divisor"`
	MinWindowSec    float64 `yaml:"min_window_sec"`
	FPSMultiplier   int     `yaml:"fps_multiplier"`
	MaxFPS          int     `yaml:"max_fps"`
	FramesIncrement int     `yaml:"frames_increment"`
	MaxFrames       int     `yaml:"max_frames"`
}

// FallbackParams configure the local frame-by-frame stage.
type FallbackParams struct {
	WindowSec       float64 `yaml:"window_sec"`
	FramesPerWindow int     `yaml:"frames_per_window"`
	Concurrency     int     `yaml:"concurrency"`
	JPEGQuality     int     `yaml:"jpeg_quality"`
	MaxTokens       int     `yaml:"max_tokens"`
}

// DefaultEscalation returns the stock tuning.
func DefaultEscalation() Escalation {
	return Escalation{
		Coarse: CoarseParams{
			TargetFPS:       10,
			WindowSec:       1.5,
			FramesPerWindow: 5,
			MaxHighlights:   10,
		},
		Refine: RefinePolicy{
			WindowDivisor:   2,
			MinWindowSec:    0.5,
			FPSMultiplier:   2,
			MaxFPS:          30,
			FramesIncrement: 2,
			MaxFrames:       10,
		},
		Fallback: FallbackParams{
			WindowSec:       2.0,
			FramesPerWindow: 4,
			Concurrency:     5,
			JPEGQuality:     70,
			MaxTokens:       150,
		},
	}
}

// LoadEscalationFile reads a YAML tuning file on top of base. Keys absent from
// the file keep their value from base.
func LoadEscalationFile(path string, base Escalation) (Escalation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Escalation{}, fmt.Errorf("read escalation file: %w", err)
	}

	out := base
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Escalation{}, fmt.Errorf("parse escalation file %s: %w", path, err)
	}
	return out, nil
}

// Validate rejects tuning that would make a stage unusable.
func (e Escalation) Validate() error {
	switch {
	case e.Coarse.WindowSec <= 0:
		return fmt.Errorf("escalation: coarse.window_sec must be positive")
	case e.Coarse.TargetFPS < 1:
		return fmt.Errorf("escalation: coarse.target_fps must be at least 1")
	case e.Coarse.FramesPerWindow < 1:
		return fmt.Errorf("escalation: coarse.frames_per_window must be at least 1")
	case e.Coarse.MaxHighlights < 1:
		return fmt.Errorf("escalation: coarse.max_highlights must be at least 1")
	case e.Refine.WindowDivisor < 1:
		return fmt.Errorf("escalation: refine.window_divisor must be at least 1")
	case e.Refine.MinWindowSec <= 0:
		return fmt.Errorf("escalation: refine.min_window_sec must be positive")
	case e.Refine.FPSMultiplier < 1 || e.Refine.MaxFPS < 1:
		return fmt.Errorf("escalation: refine fps settings must be at least 1")
	case e.Refine.FramesIncrement < 0 || e.Refine.MaxFrames < 1:
		return fmt.Errorf("escalation: refine frame settings out of range")
	case e.Fallback.WindowSec <= 0:
		return fmt.Errorf("escalation: fallback.window_sec must be positive")
	case e.Fallback.FramesPerWindow < 1:
		return fmt.Errorf("escalation: fallback.frames_per_window must be at least 1")
	case e.Fallback.Concurrency < 1:
		return fmt.Errorf("escalation: fallback.concurrency must be at least 1")
	case e.Fallback.JPEGQuality < 1 || e.Fallback.JPEGQuality > 100:
		return fmt.Errorf("escalation: fallback.jpeg_quality must be within 1..100")
	case e.Fallback.MaxTokens < 1:
		return fmt.Errorf("escalation: fallback.max_tokens must be at least 1")
	}
	return nil
}
