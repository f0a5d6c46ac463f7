package export

import (
	"strings"
	"testing"
)

func TestGenerateEDL_Highlights(t *testing.T) {
	clips := []Clip{
		{Name: "collision", MediaPath: "/data/media/a.mp4", StartSec: 1, EndSec: 3},
		{Name: "near miss", MediaPath: "/data/media/a.mp4", StartSec: 10.4, EndSec: 11.4},
	}

	edl := GenerateEDL(clips, "dashcam.mp4 highlights", 25)

	want := []string{
		"TITLE: dashcam.mp4 highlights",
		"FCM: NON-DROP FRAME",
		"001  AX       V     C        00:00:01:00 00:00:03:00 00:00:00:00 00:00:02:00",
		"* FROM CLIP NAME:  collision",
		"* MEDIA PATH:  /data/media/a.mp4",
		"002  AX       V     C        00:00:10:10 00:00:11:10 00:00:02:00 00:00:03:00",
		"* FROM CLIP NAME:  near miss",
	}
	for _, line := range want {
		if !strings.Contains(edl, line) {
			t.Errorf("EDL missing %q:\n%s", line, edl)
		}
	}
}

func TestGenerateEDL_SkipsEmptyClips(t *testing.T) {
	clips := []Clip{
		{Name: "empty", StartSec: 4, EndSec: 4},
		{Name: "reversed", StartSec: 6, EndSec: 5},
		{Name: "kept", StartSec: 0, EndSec: 1},
	}

	edl := GenerateEDL(clips, "t", 30)

	if strings.Contains(edl, "empty") || strings.Contains(edl, "reversed") {
		t.Fatalf("empty clips were written:\n%s", edl)
	}
	if !strings.Contains(edl, "001  AX") || strings.Contains(edl, "002  AX") {
		t.Errorf("expected exactly one event:\n%s", edl)
	}
	if strings.Contains(edl, "MEDIA PATH") {
		t.Errorf("media path written for clip without one:\n%s", edl)
	}
}

func TestGenerateEDL_FrameRates(t *testing.T) {
	if edl := GenerateEDL(nil, "drop", 29.97); !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Errorf("29.97 fps not drop frame:\n%s", edl)
	}
	edl := GenerateEDL([]Clip{{Name: "x", StartSec: 0, EndSec: 1}}, "unknown", 0)
	if !strings.Contains(edl, "00:00:00:00 00:00:01:00") {
		t.Errorf("unknown frame rate should fall back to %v fps:\n%s", DefaultFrameRate, edl)
	}
}

func TestSecToTimecode(t *testing.T) {
	tests := []struct {
		sec  float64
		fps  int
		want string
	}{
		{0, 25, "00:00:00:00"},
		{0.5, 30, "00:00:00:15"},
		{61.2, 25, "00:01:01:05"},
		{3600, 30, "01:00:00:00"},
		{-2, 30, "00:00:00:00"},
	}
	for _, tc := range tests {
		if got := secToTimecode(tc.sec, tc.fps); got != tc.want {
			t.Errorf("secToTimecode(%v, %d) = %q, want %q", tc.sec, tc.fps, got, tc.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{" A\nB\tC\x00 ", 0, "ABC"},
		{"Az09 -_.,()", 0, "Az09 -_.,()"},
		{"car<>|\"bus", 0, "car____bus"},
		{"abcdefghij", 4, "abcd"},
	}
	for _, tc := range tests {
		if got := SanitizeName(tc.in, tc.maxLen); got != tc.want {
			t.Errorf("SanitizeName(%q, %d) = %q, want %q", tc.in, tc.maxLen, got, tc.want)
		}
	}
}
