package analysis

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmaintel/sigma-agent/internal/inference"
)

func fptr(v float64) *float64 { return &v }

func TestFromClipResponse_NormalizesTimeline(t *testing.T) {
	resp := &inference.ClipResponse{
		InferredDomain: "traffic",
		Timeline: []inference.ClipWindow{
			{WindowIndex: 2, TimestampSec: 3, IntervalEndSec: fptr(4.5), Caption: "third", RiskScore: 1.7},
			{WindowIndex: 0, TimestampSec: 0, IntervalEndSec: fptr(1.5), Caption: "first", RiskScore: -0.2},
			{WindowIndex: 1, TimestampSec: 1.5, IntervalEndSec: fptr(3), Caption: "second", RiskScore: 0.4},
			{WindowIndex: 1, TimestampSec: 1.5, IntervalEndSec: fptr(3), Caption: "dup", RiskScore: 0.9},
		},
		Metadata: inference.ClipMetadata{DurationSec: 4.5, NumFrames: 112, NumWindows: 3},
	}

	res := FromClipResponse(resp, "traffic")

	require.Equal(t, "completed", res.Status)
	require.Equal(t, []int{0, 1, 2}, findingIndexes(res.Timeline))
	require.Equal(t, "second", res.Timeline[1].Caption)
	require.Equal(t, 0.0, res.Timeline[0].RiskScore)
	require.Equal(t, 1.0, res.Timeline[2].RiskScore)
	require.Equal(t, LabelSafe, res.Timeline[0].Label)
	require.False(t, res.HasEvent)
	require.NotNil(t, res.Events)
	require.Equal(t, Metadata{DurationSec: 4.5, FrameCount: 112, WindowCount: 3}, res.Metadata)
}

func TestFromClipResponse_KeepsEventOrderAndDefaultsHighlights(t *testing.T) {
	resp := &inference.ClipResponse{
		HasEvent: true,
		Events: []inference.ClipEvent{
			{EventType: "traffic", IntervalStartSec: 9, IntervalEndSec: 11, Description: "late"},
			{EventType: "traffic", IntervalStartSec: 2, IntervalEndSec: 4, Description: "early",
				HighlightStartSec: fptr(2.5), HighlightEndSec: fptr(3.5)},
		},
	}

	res := FromClipResponse(resp, "")

	require.True(t, res.HasEvent)
	require.Len(t, res.Events, 2)
	require.Equal(t, "late", res.Events[0].Description)
	require.Equal(t, 9.0, res.Events[0].HighlightStartSec)
	require.Equal(t, 11.0, res.Events[0].HighlightEndSec)
	require.Equal(t, 2.5, res.Events[1].HighlightStartSec)
	require.Equal(t, "unknown", res.InferredDomain)
}

func TestFromClipResponse_SynthesisesEventsFromFlaggedWindows(t *testing.T) {
	resp := &inference.ClipResponse{
		HasEvent: true,
		Timeline: []inference.ClipWindow{
			{WindowIndex: 0, TimestampSec: 0, IntervalEndSec: fptr(2), Caption: "quiet"},
			{WindowIndex: 1, TimestampSec: 2, IntervalEndSec: fptr(4), HasEvent: true, Caption: "punch thrown", EventType: "safe"},
		},
	}

	res := FromClipResponse(resp, "violence")

	require.True(t, res.HasEvent)
	require.Equal(t, []EventRecord{{
		EventType:         "violence",
		IntervalStartSec:  2,
		IntervalEndSec:    4,
		Description:       "punch thrown",
		HighlightStartSec: 2,
		HighlightEndSec:   4,
	}}, res.Events)
	require.Equal(t, LabelEvent, res.Timeline[1].Label)
}

func TestFromClipResponse_BareHasEventSpansClip(t *testing.T) {
	resp := &inference.ClipResponse{
		HasEvent: true,
		Timeline: []inference.ClipWindow{
			{WindowIndex: 0, TimestampSec: 0, IntervalEndSec: fptr(2), Caption: "quiet"},
		},
		Metadata: inference.ClipMetadata{DurationSec: 6.5},
	}

	res := FromClipResponse(resp, "production")

	require.True(t, res.HasEvent)
	require.True(t, res.Positive())
	require.Equal(t, []EventRecord{{
		EventType:       "production",
		IntervalEndSec:  6.5,
		HighlightEndSec: 6.5,
	}}, res.Events)
}

func TestFromClipResponse_NoEventIsNegative(t *testing.T) {
	res := FromClipResponse(&inference.ClipResponse{Timeline: []inference.ClipWindow{{WindowIndex: 0}}}, "")
	require.False(t, res.HasEvent)
	require.False(t, res.Positive())
}

func TestFromClipResponse_FillsOpenEnds(t *testing.T) {
	resp := &inference.ClipResponse{
		Timeline: []inference.ClipWindow{
			{WindowIndex: 0, TimestampSec: 0},
			{WindowIndex: 1, TimestampSec: 1.5},
		},
		Metadata: inference.ClipMetadata{DurationSec: 2.4},
	}

	res := FromClipResponse(resp, "")
	require.Equal(t, 1.5, res.Timeline[0].EndSec)
	require.Equal(t, 2.4, res.Timeline[1].EndSec)
}

func TestResult_NormalizeHasEventInvariant(t *testing.T) {
	r := &Result{HasEvent: true}
	r.Normalize()
	require.False(t, r.HasEvent)

	r = &Result{Events: []EventRecord{{EventType: "event"}}}
	r.Normalize()
	require.True(t, r.HasEvent)
}

func TestResult_JSONShape(t *testing.T) {
	r := assembleLocal(nil, "", Metadata{DurationSec: 3.14159, FrameCount: 79, WindowCount: 2})
	data, err := json.Marshal(r)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"status": "completed",
		"inferred_domain": "other",
		"has_event": false,
		"events": [],
		"timeline": [],
		"metadata": {"duration_sec": 3.14, "num_frames": 79, "num_windows": 2},
		"stage": 0
	}`, string(data))
}

func TestAssembleLocal(t *testing.T) {
	findings := []WindowFinding{
		findingFromVerdict(WindowSpec{Index: 0, StartSec: 0, EndSec: 2}, &inference.Verdict{Description: "calm"}, "production"),
		findingFromVerdict(WindowSpec{Index: 1, StartSec: 2, EndSec: 3.333}, &inference.Verdict{HasEvent: true, Description: "crate falls", RiskScore: 0.8}, "production"),
	}

	res := assembleLocal(findings, "production", Metadata{DurationSec: 3.333, FrameCount: 83, WindowCount: 2})

	require.Equal(t, "production", res.InferredDomain)
	require.True(t, res.HasEvent)
	require.Len(t, res.Events, 1)
	require.Equal(t, EventRecord{
		EventType:         "production",
		IntervalStartSec:  2,
		IntervalEndSec:    3.33,
		Description:       "crate falls",
		HighlightStartSec: 2,
		HighlightEndSec:   3.33,
	}, res.Events[0])

	require.Equal(t, "safe", res.Timeline[0].EventType)
	require.Equal(t, LabelSafe, res.Timeline[0].Label)
	require.Equal(t, "production", res.Timeline[1].EventType)
	require.Equal(t, LabelEvent, res.Timeline[1].Label)
}

func TestFindingFromVerdict_ClampsRisk(t *testing.T) {
	f := findingFromVerdict(WindowSpec{}, &inference.Verdict{RiskScore: math.NaN()}, "")
	require.Equal(t, 0.0, f.RiskScore)

	f = findingFromVerdict(WindowSpec{}, &inference.Verdict{HasEvent: true, RiskScore: 3}, "")
	require.Equal(t, 1.0, f.RiskScore)
	require.Equal(t, "event", f.EventType)
}
