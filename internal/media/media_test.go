package media

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	n, err := lw.Write([]byte(" world of test data"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 19 {
		t.Errorf("Write returned %d, want 19", n)
	}
	if got := buf.String(); got != " test data" {
		t.Errorf("after overflow got %q, want %q", got, " test data")
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 29.97002997},
		{"0/0", 0},
		{"24", 24},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		if got := parseRate(tt.in); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("parseRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720,
			 "r_frame_rate": "25/1", "avg_frame_rate": "25/1", "duration": "11.9"}
		],
		"format": {"duration": "12.04"}
	}`)

	res, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if res.Codec != "h264" || res.Width != 1280 || res.Height != 720 {
		t.Errorf("unexpected stream info: %+v", res)
	}
	if res.Duration != 12.04 {
		t.Errorf("Duration = %v, want container duration 12.04", res.Duration)
	}
	if res.FrameRate != 25 {
		t.Errorf("FrameRate = %v, want 25", res.FrameRate)
	}
}

func TestParseProbe_FallsBackToStreamDuration(t *testing.T) {
	data := []byte(`{"streams":[{"codec_type":"video","codec_name":"vp9","avg_frame_rate":"0/0","r_frame_rate":"30/1","duration":"4.5"}],"format":{}}`)

	res, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if res.Duration != 4.5 {
		t.Errorf("Duration = %v, want 4.5", res.Duration)
	}
	if res.FrameRate != 30 {
		t.Errorf("FrameRate = %v, want 30 from r_frame_rate", res.FrameRate)
	}
}

func TestParseProbe_NoVideoStream(t *testing.T) {
	if _, err := parseProbe([]byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"3"}}`)); err == nil {
		t.Fatal("expected error for audio-only input")
	}
	if _, err := parseProbe([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestToolError_Message(t *testing.T) {
	err := &ToolError{Tool: "ffmpeg", ExitCode: 1, StderrTail: strings.Repeat("x", 600) + "boom"}
	msg := err.Error()
	if !strings.HasPrefix(msg, "ffmpeg exited 1: ...") {
		t.Errorf("unexpected message prefix: %q", msg[:30])
	}
	if !strings.HasSuffix(msg, "boom") {
		t.Errorf("message should keep the stderr tail")
	}
}

func TestCheckContentType(t *testing.T) {
	tests := []struct {
		ct      string
		wantExt string
		wantErr bool
	}{
		{"video/mp4", ".mp4", false},
		{"video/quicktime", ".mov", false},
		{"VIDEO/WEBM", ".webm", false},
		{"video/x-matroska; charset=binary", ".mkv", false},
		{"image/png", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ct, func(t *testing.T) {
			ext, err := CheckContentType(tt.ct)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedType) {
					t.Fatalf("CheckContentType(%q) error = %v, want ErrUnsupportedType", tt.ct, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckContentType(%q) error = %v", tt.ct, err)
			}
			if ext != tt.wantExt {
				t.Errorf("ext = %q, want %q", ext, tt.wantExt)
			}
		})
	}
}

func TestStorage_Save(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "videos"))
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}

	path, n, err := s.Save("abc", ".mp4", strings.NewReader("0123456789"), 10)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if n != 10 {
		t.Errorf("n = %d, want 10", n)
	}
	if filepath.Base(path) != "abc.mp4" {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "0123456789" {
		t.Fatalf("stored data = %q, err = %v", data, err)
	}

	if err := s.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(path); err != nil {
		t.Fatalf("second Remove() should be a no-op, got %v", err)
	}
}

func TestStorage_SaveTooLarge(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}

	_, _, err = s.Save("big", ".mp4", strings.NewReader("0123456789A"), 10)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Save() error = %v, want ErrTooLarge", err)
	}
	if _, statErr := os.Stat(filepath.Join(s.Dir(), "big.mp4")); !os.IsNotExist(statErr) {
		t.Error("partial file should have been removed")
	}
}

func TestStorage_RejectsPathInID(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	if _, _, err := s.Save("../escape", ".mp4", strings.NewReader("x"), 10); err == nil {
		t.Fatal("expected error for id containing a path separator")
	}
}

func TestTypeByExtension(t *testing.T) {
	tests := map[string]string{
		"dashcam.MP4":  "video/mp4",
		"clip.mov":     "video/quicktime",
		"old.mpg":      "video/mpeg",
		"feed.mkv":     "video/x-matroska",
		"notes.txt":    "",
		"no-extension": "",
	}
	for name, want := range tests {
		if got := TypeByExtension(name); got != want {
			t.Errorf("TypeByExtension(%q) = %q, want %q", name, got, want)
		}
	}
}
