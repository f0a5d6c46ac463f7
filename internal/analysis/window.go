package analysis

import (
	"fmt"
	"math"
)

// WindowSpec is a half-open interval [StartSec, EndSec) of the video.
type WindowSpec struct {
	Index    int
	StartSec float64
	EndSec   float64
}

// Duration returns the window length in seconds.
func (w WindowSpec) Duration() float64 {
	return w.EndSec - w.StartSec
}

// MaxWindows bounds the number of windows a single plan may produce.
const MaxWindows = 100000

// Plan splits [0, durationSec) into consecutive windows of windowSec. The last
// window is truncated so it ends exactly at durationSec.
func Plan(durationSec, windowSec float64) ([]WindowSpec, error) {
	if math.IsNaN(windowSec) || windowSec <= 0 {
		return nil, fmt.Errorf("%w: window length must be positive, got %v", ErrInvalidParameter, windowSec)
	}
	if math.IsNaN(durationSec) || durationSec <= 0 {
		return []WindowSpec{}, nil
	}
	if math.IsInf(durationSec, 0) {
		return nil, fmt.Errorf("%w: duration must be finite", ErrInvalidParameter)
	}

	if n := durationSec / windowSec; n > MaxWindows {
		return nil, fmt.Errorf("%w: %v s windows over %v s exceed %d windows", ErrInvalidParameter, windowSec, durationSec, MaxWindows)
	}

	windows := make([]WindowSpec, 0, int(math.Ceil(durationSec/windowSec)))
	t := 0.0
	for idx := 0; t < durationSec; idx++ {
		if t+windowSec == t {
			return nil, fmt.Errorf("%w: window length %v too small to advance past %v s", ErrInvalidParameter, windowSec, t)
		}
		end := math.Min(t+windowSec, durationSec)
		windows = append(windows, WindowSpec{Index: idx, StartSec: t, EndSec: end})
		t = end
	}
	return windows, nil
}
