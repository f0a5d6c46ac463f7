package export

import (
	"fmt"
	"math"
	"strings"
)

// DefaultFrameRate is used when the video frame rate is unknown.
const DefaultFrameRate = 25.0

// GenerateEDL lays the clips end to end on the record track. Clips with an
// empty span are skipped.
func GenerateEDL(clips []Clip, title string, frameRate float64) string {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	fps := int(math.Round(frameRate))

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", SanitizeName(title, 70))
	if isDropFrame {
		b.WriteString("FCM: DROP FRAME\n")
	} else {
		b.WriteString("FCM: NON-DROP FRAME\n")
	}
	b.WriteString("\n")

	var record float64
	n := 0
	for _, clip := range clips {
		d := clip.duration()
		if d == 0 {
			continue
		}
		n++
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n", n, "AX", "V",
			secToTimecode(clip.StartSec, fps),
			secToTimecode(clip.EndSec, fps),
			secToTimecode(record, fps),
			secToTimecode(record+d, fps),
		)
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", SanitizeName(clip.Name, 60))
		if clip.MediaPath != "" {
			fmt.Fprintf(&b, "* MEDIA PATH:  %s\n", clip.MediaPath)
		}
		record += d
	}
	return b.String()
}

func secToTimecode(sec float64, fps int) string {
	totalFrames := int(math.Round(max(sec, 0) * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
