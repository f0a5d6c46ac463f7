// Package media wraps the ffmpeg/ffprobe executables and the on-disk storage of
// uploaded videos.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	defaultProbeTimeout = 30 * time.Second
	defaultGrabTimeout  = 20 * time.Second
)

// ErrToolMissing is returned when ffmpeg or ffprobe cannot be found on PATH.
var ErrToolMissing = errors.New("media: ffmpeg tool not found")

// ProbeResult is the subset of ffprobe output the agent relies on.
type ProbeResult struct {
	Duration  float64
	Width     int
	Height    int
	Codec     string
	FrameRate float64
}

// FFmpeg is the media toolbox used by the analysis stages.
type FFmpeg interface {
	Probe(ctx context.Context, filePath string) (*ProbeResult, error)
	GrabFrame(ctx context.Context, filePath string, atSec float64) (image.Image, error)
}

// ToolError carries the exit status and stderr tail of a failed tool run.
type ToolError struct {
	Tool       string
	ExitCode   int
	StderrTail string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited %d: %s", e.Tool, e.ExitCode, truncate(e.StderrTail, 512))
}

// RealFFmpeg shells out to the ffmpeg and ffprobe binaries.
type RealFFmpeg struct {
	ffmpeg       string
	ffprobe      string
	probeTimeout time.Duration
	grabTimeout  time.Duration
	logger       *slog.Logger
}

// NewRealFFmpeg resolves both binaries on PATH.
func NewRealFFmpeg(logger *slog.Logger) (*RealFFmpeg, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg", ErrToolMissing)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe", ErrToolMissing)
	}

	logger.Info("ffmpeg tools resolved", "ffmpeg", ffmpegPath, "ffprobe", ffprobePath)

	return &RealFFmpeg{
		ffmpeg:       ffmpegPath,
		ffprobe:      ffprobePath,
		probeTimeout: defaultProbeTimeout,
		grabTimeout:  defaultGrabTimeout,
		logger:       logger,
	}, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads duration, resolution and frame rate of the first video stream.
func (f *RealFFmpeg) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.probeTimeout)
	defer cancel()

	out, err := f.run(ctx, f.ffprobe, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	if err != nil {
		return nil, err
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	res.Duration, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	for _, s := range raw.Streams {
		if s.CodecType != "video" {
			continue
		}
		res.Codec = s.CodecName
		res.Width = s.Width
		res.Height = s.Height
		res.FrameRate = parseRate(s.AvgFrameRate)
		if res.FrameRate == 0 {
			res.FrameRate = parseRate(s.RFrameRate)
		}
		if res.Duration == 0 {
			res.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
		break
	}
	if res.Codec == "" {
		return nil, fmt.Errorf("no video stream found")
	}
	return res, nil
}

// parseRate turns an ffprobe rational such as "30000/1001" into a float.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// GrabFrame seeks to atSec and decodes a single frame.
func (f *RealFFmpeg) GrabFrame(ctx context.Context, filePath string, atSec float64) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, f.grabTimeout)
	defer cancel()

	out, err := f.run(ctx, f.ffmpeg, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(atSec, 'f', 3, 64),
		"-i", filePath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no frame at %.3fs", atSec)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode frame at %.3fs: %w", atSec, err)
	}
	return img, nil
}

// run executes a tool and returns its stdout.
func (f *RealFFmpeg) run(ctx context.Context, bin, tool string, args ...string) ([]byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", tool, ctxErr)
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		f.logger.Debug("media tool failed",
			"tool", tool,
			"exit_code", exitCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"stderr_tail", truncate(stderrBuf.String(), 512),
		)
		return nil, &ToolError{Tool: tool, ExitCode: exitCode, StderrTail: stderrBuf.String()}
	}
	return stdout.Bytes(), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
