package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
)

// DefaultJPEGQuality is the re-encode quality of sampled frames.
const DefaultJPEGQuality = 70

// FrameGrabber decodes the frame shown at atSec.
type FrameGrabber interface {
	GrabFrame(ctx context.Context, videoPath string, atSec float64) (image.Image, error)
}

// Sampler extracts evenly spaced frames from a window and returns them as
// base64 JPEG strings.
type Sampler struct {
	grabber FrameGrabber
	quality int
	logger  *slog.Logger
}

func NewSampler(grabber FrameGrabber, quality int, logger *slog.Logger) *Sampler {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Sampler{grabber: grabber, quality: quality, logger: logger}
}

// Timestamps returns count evenly spaced instants in [start, end]. Both ends
// are included when count > 1; a single sample sits at the midpoint.
func Timestamps(w WindowSpec, count int) ([]float64, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: frame count must be at least 1, got %d", ErrInvalidParameter, count)
	}
	if count == 1 {
		return []float64{w.StartSec + w.Duration()/2}, nil
	}
	ts := make([]float64, count)
	step := w.Duration() / float64(count-1)
	for i := range ts {
		ts[i] = w.StartSec + step*float64(i)
	}
	ts[count-1] = w.EndSec
	return ts, nil
}

// Sample grabs count frames from w. Frames that fail to decode are skipped, so
// the result may be shorter than count, possibly empty.
func (s *Sampler) Sample(ctx context.Context, videoPath string, w WindowSpec, count int) ([]string, error) {
	ts, err := Timestamps(w, count)
	if err != nil {
		return nil, err
	}

	frames := make([]string, 0, count)
	for _, at := range ts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := s.grabber.GrabFrame(ctx, videoPath, at)
		if err != nil {
			s.logger.Debug("frame skipped", "window_index", w.Index, "at_sec", at, "error", err)
			continue
		}
		enc, err := s.encode(img)
		if err != nil {
			s.logger.Debug("frame encode failed", "window_index", w.Index, "at_sec", at, "error", err)
			continue
		}
		frames = append(frames, enc)
	}
	return frames, nil
}

func (s *Sampler) encode(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
