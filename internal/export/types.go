// Package export renders incident highlights as a CMX3600 edit decision list
// so detected events can be pulled straight into an editor.
package export

// Clip is one highlight span of a source video, in seconds.
type Clip struct {
	Name      string
	MediaPath string
	StartSec  float64
	EndSec    float64
}

func (c Clip) duration() float64 {
	return max(c.EndSec-c.StartSec, 0)
}
