package inference

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Verdict
		wantErr bool
	}{
		{
			name: "plain json",
			in:   `{"has_event": true, "description": "fight", "risk_score": 0.7}`,
			want: Verdict{HasEvent: true, Description: "fight", RiskScore: 0.7},
		},
		{
			name: "surrounding whitespace",
			in:   "\n  {\"has_event\": false, \"description\": \"calm\", \"risk_score\": 0}\n",
			want: Verdict{Description: "calm"},
		},
		{
			name: "markdown fence",
			in:   "```json\n{\"has_event\": true, \"description\": \"fall\", \"risk_score\": 1}\n```",
			want: Verdict{HasEvent: true, Description: "fall", RiskScore: 1},
		},
		{
			name:    "prose",
			in:      "The frames show a quiet street.",
			wantErr: true,
		},
		{
			name:    "empty",
			in:      "",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDegradedVerdict(t *testing.T) {
	short := DegradedVerdict("no json here")
	require.Equal(t, Verdict{Description: "no json here", Degraded: true}, short)

	long := strings.Repeat("ж", 250)
	v := DegradedVerdict(long)
	require.Len(t, []rune(v.Description), 200)
	require.False(t, v.HasEvent)
	require.Zero(t, v.RiskScore)
}

func TestBackendError_IsRetryable(t *testing.T) {
	require.True(t, (&BackendError{StatusCode: 502}).IsRetryable())
	require.False(t, (&BackendError{StatusCode: 400}).IsRetryable())
	require.Contains(t, (&BackendError{Op: "generate", StatusCode: 400, Body: "bad"}).Error(), "generate failed: HTTP 400")
}
