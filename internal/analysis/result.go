package analysis

import (
	"math"
	"sort"

	"github.com/sigmaintel/sigma-agent/internal/inference"
)

// Timeline labels.
const (
	LabelEvent = "EVENT"
	LabelSafe  = "SAFE"
)

const (
	statusCompleted  = "completed"
	eventTypeSafe    = "safe"
	eventTypeGeneric = "event"
	domainUnknown    = "unknown"
	defaultFrameRate = 25.0
)

// WindowFinding is one timeline entry.
type WindowFinding struct {
	WindowIndex int     `json:"window_idx"`
	StartSec    float64 `json:"timestamp_sec"`
	EndSec      float64 `json:"interval_end_sec"`
	Label       string  `json:"label"`
	HasEvent    bool    `json:"has_event"`
	Caption     string  `json:"caption"`
	RiskScore   float64 `json:"risk_score"`
	EventType   string  `json:"event_type"`
}

// EventRecord is a detected event. Highlight bounds default to the interval.
type EventRecord struct {
	EventType         string  `json:"event_type"`
	IntervalStartSec  float64 `json:"interval_start_sec"`
	IntervalEndSec    float64 `json:"interval_end_sec"`
	Description       string  `json:"description"`
	HighlightStartSec float64 `json:"highlight_start_sec"`
	HighlightEndSec   float64 `json:"highlight_end_sec"`
}

type Metadata struct {
	DurationSec float64 `json:"duration_sec"`
	FrameCount  int     `json:"num_frames"`
	WindowCount int     `json:"num_windows"`
}

// Result is the outcome of one analysis attempt.
type Result struct {
	Status         string          `json:"status"`
	InferredDomain string          `json:"inferred_domain"`
	HasEvent       bool            `json:"has_event"`
	Events         []EventRecord   `json:"events"`
	Timeline       []WindowFinding `json:"timeline"`
	Metadata       Metadata        `json:"metadata"`
	Stage          int             `json:"stage"`
}

// Positive reports whether the result carries at least one event.
func (r *Result) Positive() bool {
	return r != nil && len(r.Events) > 0
}

// Normalize enforces the result invariants: the timeline is ordered by window
// index without duplicates, risk scores lie in [0, 1], and HasEvent is true
// exactly when Events is non-empty.
func (r *Result) Normalize() {
	sort.SliceStable(r.Timeline, func(i, j int) bool {
		return r.Timeline[i].WindowIndex < r.Timeline[j].WindowIndex
	})
	out := r.Timeline[:0]
	for i, w := range r.Timeline {
		if i > 0 && w.WindowIndex == out[len(out)-1].WindowIndex {
			continue
		}
		w.RiskScore = clampRisk(w.RiskScore)
		out = append(out, w)
	}
	r.Timeline = out
	if r.Timeline == nil {
		r.Timeline = []WindowFinding{}
	}
	if r.Events == nil {
		r.Events = []EventRecord{}
	}
	r.HasEvent = len(r.Events) > 0
}

// FromClipResponse converts a whole-clip backend answer into a Result. Events
// keep the backend's order. When the backend lists no events but flags
// timeline windows, one event per flagged window is synthesised. A bare
// has_event with neither becomes one event spanning the clip.
func FromClipResponse(resp *inference.ClipResponse, domain string) *Result {
	res := &Result{
		Status:         resp.Status,
		InferredDomain: resp.InferredDomain,
		Metadata: Metadata{
			DurationSec: resp.Metadata.DurationSec,
			FrameCount:  resp.Metadata.NumFrames,
			WindowCount: resp.Metadata.NumWindows,
		},
	}
	if res.Status == "" {
		res.Status = statusCompleted
	}
	if res.InferredDomain == "" {
		res.InferredDomain = domain
	}
	if res.InferredDomain == "" {
		res.InferredDomain = domainUnknown
	}

	res.Timeline = make([]WindowFinding, 0, len(resp.Timeline))
	for _, w := range resp.Timeline {
		f := WindowFinding{
			WindowIndex: w.WindowIndex,
			StartSec:    w.TimestampSec,
			EndSec:      w.TimestampSec,
			Label:       w.Label,
			HasEvent:    w.HasEvent,
			Caption:     w.Caption,
			RiskScore:   w.RiskScore,
			EventType:   w.EventType,
		}
		if w.IntervalEndSec != nil {
			f.EndSec = *w.IntervalEndSec
		}
		if f.Label == "" {
			f.Label = labelFor(f.HasEvent)
		}
		res.Timeline = append(res.Timeline, f)
	}
	res.Normalize()
	fillOpenEnds(res.Timeline, res.Metadata.DurationSec, resp.Timeline)

	res.Events = make([]EventRecord, 0, len(resp.Events))
	for _, e := range resp.Events {
		ev := EventRecord{
			EventType:         e.EventType,
			IntervalStartSec:  e.IntervalStartSec,
			IntervalEndSec:    e.IntervalEndSec,
			Description:       e.Description,
			HighlightStartSec: e.IntervalStartSec,
			HighlightEndSec:   e.IntervalEndSec,
		}
		if e.HighlightStartSec != nil {
			ev.HighlightStartSec = *e.HighlightStartSec
		}
		if e.HighlightEndSec != nil {
			ev.HighlightEndSec = *e.HighlightEndSec
		}
		if ev.EventType == "" {
			ev.EventType = eventTypeFor(domain)
		}
		res.Events = append(res.Events, ev)
	}

	if len(res.Events) == 0 {
		for _, w := range res.Timeline {
			if !w.HasEvent {
				continue
			}
			et := w.EventType
			if et == "" || et == eventTypeSafe {
				et = eventTypeFor(domain)
			}
			res.Events = append(res.Events, EventRecord{
				EventType:         et,
				IntervalStartSec:  w.StartSec,
				IntervalEndSec:    w.EndSec,
				Description:       w.Caption,
				HighlightStartSec: w.StartSec,
				HighlightEndSec:   w.EndSec,
			})
		}
	}

	if len(res.Events) == 0 && resp.HasEvent {
		end := res.Metadata.DurationSec
		if n := len(res.Timeline); n > 0 && res.Timeline[n-1].EndSec > end {
			end = res.Timeline[n-1].EndSec
		}
		res.Events = append(res.Events, EventRecord{
			EventType:       eventTypeFor(domain),
			IntervalEndSec:  end,
			HighlightEndSec: end,
		})
	}

	res.Normalize()
	return res
}

// fillOpenEnds gives windows the backend sent without an end the start of the
// next window, or the video duration for the last one.
func fillOpenEnds(timeline []WindowFinding, duration float64, raw []inference.ClipWindow) {
	open := make(map[int]bool, len(raw))
	for _, w := range raw {
		if w.IntervalEndSec == nil {
			open[w.WindowIndex] = true
		}
	}
	for i := range timeline {
		if !open[timeline[i].WindowIndex] {
			continue
		}
		switch {
		case i+1 < len(timeline):
			timeline[i].EndSec = timeline[i+1].StartSec
		case duration > timeline[i].StartSec:
			timeline[i].EndSec = duration
		}
	}
}

// assembleLocal builds the frame-fallback result from per-window findings.
func assembleLocal(findings []WindowFinding, domain string, meta Metadata) *Result {
	res := &Result{
		Status:         statusCompleted,
		InferredDomain: domain,
		Timeline:       make([]WindowFinding, 0, len(findings)),
		Events:         []EventRecord{},
		Metadata:       meta,
	}
	if res.InferredDomain == "" {
		res.InferredDomain = DomainOther
	}
	res.Metadata.DurationSec = round2(meta.DurationSec)

	for _, f := range findings {
		f.StartSec = round2(f.StartSec)
		f.EndSec = round2(f.EndSec)
		res.Timeline = append(res.Timeline, f)
		if !f.HasEvent {
			continue
		}
		res.Events = append(res.Events, EventRecord{
			EventType:         eventTypeFor(domain),
			IntervalStartSec:  f.StartSec,
			IntervalEndSec:    f.EndSec,
			Description:       f.Caption,
			HighlightStartSec: f.StartSec,
			HighlightEndSec:   f.EndSec,
		})
	}

	res.Normalize()
	return res
}

// findingFromVerdict maps a frame verdict onto its window.
func findingFromVerdict(w WindowSpec, v *inference.Verdict, domain string) WindowFinding {
	f := WindowFinding{
		WindowIndex: w.Index,
		StartSec:    w.StartSec,
		EndSec:      w.EndSec,
		HasEvent:    v.HasEvent,
		Caption:     v.Description,
		RiskScore:   clampRisk(v.RiskScore),
		Label:       labelFor(v.HasEvent),
		EventType:   eventTypeSafe,
	}
	if v.HasEvent {
		f.EventType = eventTypeFor(domain)
	}
	return f
}

func labelFor(hasEvent bool) string {
	if hasEvent {
		return LabelEvent
	}
	return LabelSafe
}

func eventTypeFor(domain string) string {
	if domain == "" {
		return eventTypeGeneric
	}
	return domain
}

func clampRisk(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
