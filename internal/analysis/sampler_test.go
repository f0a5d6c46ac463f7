package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmaintel/sigma-agent/internal/logging"
)

// fakeGrabber returns a solid image unless the timestamp is listed in fail.
type fakeGrabber struct {
	mu    sync.Mutex
	fail  func(path string, at float64) bool
	calls []float64
}

func (g *fakeGrabber) GrabFrame(_ context.Context, path string, at float64) (image.Image, error) {
	g.mu.Lock()
	g.calls = append(g.calls, at)
	g.mu.Unlock()
	if g.fail != nil && g.fail(path, at) {
		return nil, errors.New("seek failed")
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	return img, nil
}

func TestTimestamps(t *testing.T) {
	w := WindowSpec{Index: 0, StartSec: 2, EndSec: 4}

	ts, err := Timestamps(w, 4)
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{2, 2.6666667, 3.3333333, 4}, ts, 1e-6)

	ts, err = Timestamps(w, 1)
	require.NoError(t, err)
	require.Equal(t, []float64{3}, ts)

	ts, err = Timestamps(w, 2)
	require.NoError(t, err)
	require.Equal(t, []float64{2, 4}, ts)

	_, err = Timestamps(w, 0)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestSampler_EncodesJPEGBase64(t *testing.T) {
	s := NewSampler(&fakeGrabber{}, 70, logging.Discard())

	frames, err := s.Sample(context.Background(), "clip.mp4", WindowSpec{StartSec: 0, EndSec: 2}, 3)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	raw, err := base64.StdEncoding.DecodeString(frames[0])
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 8, img.Bounds().Dx())
}

func TestSampler_SkipsFailedFrames(t *testing.T) {
	g := &fakeGrabber{fail: func(_ string, at float64) bool { return at == 0 }}
	s := NewSampler(g, 70, logging.Discard())

	frames, err := s.Sample(context.Background(), "clip.mp4", WindowSpec{StartSec: 0, EndSec: 2}, 4)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	require.Len(t, g.calls, 4)
}

func TestSampler_AllFramesFail(t *testing.T) {
	g := &fakeGrabber{fail: func(string, float64) bool { return true }}
	s := NewSampler(g, 70, logging.Discard())

	frames, err := s.Sample(context.Background(), "clip.mp4", WindowSpec{StartSec: 0, EndSec: 2}, 4)
	require.NoError(t, err)
	require.Empty(t, frames)
}

func TestSampler_InvalidQualityFallsBack(t *testing.T) {
	s := NewSampler(&fakeGrabber{}, 0, logging.Discard())
	require.Equal(t, DefaultJPEGQuality, s.quality)
}
