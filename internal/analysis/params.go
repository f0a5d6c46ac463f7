package analysis

import (
	"fmt"
	"math"
	"strings"
)

// Known analysis domains. Anything else is left for the backend to infer.
const (
	DomainTraffic    = "traffic"
	DomainProduction = "production"
	DomainViolence   = "violence"
	DomainOther      = "other"
)

var knownDomains = map[string]bool{
	DomainTraffic:    true,
	DomainProduction: true,
	DomainViolence:   true,
	DomainOther:      true,
}

// NormalizeDomain trims quotes and whitespace, lowercases, and reports whether
// the result is a known domain. Unknown values normalize to "".
func NormalizeDomain(raw string) (string, bool) {
	d := strings.ToLower(strings.Trim(raw, "\"' \t\r\n"))
	if knownDomains[d] {
		return d, true
	}
	return "", false
}

// Params are the whole-clip analysis parameters sent with stages 1 and 2.
type Params struct {
	Domain          string
	TargetFPS       int
	WindowSec       float64
	FramesPerWindow int
	MaxHighlights   int
}

// IsZero reports whether no parameter was set.
func (p Params) IsZero() bool {
	return p == Params{}
}

func (p Params) Validate() error {
	switch {
	case p.TargetFPS < 1:
		return fmt.Errorf("%w: target_fps must be at least 1", ErrInvalidParameter)
	case math.IsNaN(p.WindowSec) || p.WindowSec <= 0:
		return fmt.Errorf("%w: window_sec must be positive", ErrInvalidParameter)
	case p.FramesPerWindow < 1:
		return fmt.Errorf("%w: frames_per_window must be at least 1", ErrInvalidParameter)
	case p.MaxHighlights < 1:
		return fmt.Errorf("%w: max_highlights must be at least 1", ErrInvalidParameter)
	}
	return nil
}

// RefinePolicy derives the finer stage 2 parameters from the stage 1 ones.
type RefinePolicy struct {
	WindowDivisor   float64
	MinWindowSec    float64
	FPSMultiplier   int
	MaxFPS          int
	FramesIncrement int
	MaxFrames       int
}

// DefaultRefinePolicy halves the window (not below 0.5s), doubles the frame
// rate (up to 30) and adds two frames per window (up to 10).
func DefaultRefinePolicy() RefinePolicy {
	return RefinePolicy{
		WindowDivisor:   2,
		MinWindowSec:    0.5,
		FPSMultiplier:   2,
		MaxFPS:          30,
		FramesIncrement: 2,
		MaxFrames:       10,
	}
}

func (rp RefinePolicy) Refine(p Params) Params {
	out := p
	out.WindowSec = math.Max(rp.MinWindowSec, p.WindowSec/rp.WindowDivisor)
	out.TargetFPS = min(rp.MaxFPS, p.TargetFPS*rp.FPSMultiplier)
	out.FramesPerWindow = min(rp.MaxFrames, p.FramesPerWindow+rp.FramesIncrement)
	return out
}
