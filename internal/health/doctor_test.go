package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sigmaintel/sigma-agent/internal/logging"
)

type fakeProber struct {
	calls   int
	probeFn func(ctx context.Context) (*Capabilities, error)
}

func (f *fakeProber) Probe(ctx context.Context) (*Capabilities, error) {
	f.calls++
	return f.probeFn(ctx)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func fakeLookPath(present ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, p := range present {
			if p == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("executable file not found in $PATH")
	}
}

func TestSystemProber_AllAvailable(t *testing.T) {
	p := NewSystemProber(fakePinger{})
	p.lookPath = fakeLookPath("ffmpeg", "ffprobe")

	caps, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if !caps.AllOK() || !caps.ClipAnalysis || !caps.FrameFallback {
		t.Errorf("caps = %+v", caps)
	}
	if caps.FFmpeg.Path != "/usr/bin/ffmpeg" {
		t.Errorf("ffmpeg path = %s", caps.FFmpeg.Path)
	}
}

func TestSystemProber_MissingPieces(t *testing.T) {
	p := NewSystemProber(fakePinger{err: errors.New("connection refused")})
	p.lookPath = fakeLookPath("ffmpeg")

	caps, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if caps.AllOK() || caps.ClipAnalysis || caps.FrameFallback {
		t.Errorf("caps = %+v", caps)
	}
	if caps.Backend.Error != "connection refused" {
		t.Errorf("backend error = %q", caps.Backend.Error)
	}
	if caps.FFprobe.Available || caps.FFprobe.Error == "" {
		t.Errorf("ffprobe = %+v", caps.FFprobe)
	}
}

func TestSystemProber_NoBackend(t *testing.T) {
	p := NewSystemProber(nil)
	p.lookPath = fakeLookPath("ffmpeg", "ffprobe")

	caps, _ := p.Probe(context.Background())
	if caps.Backend.Available || caps.Backend.Error != "not configured" {
		t.Errorf("backend = %+v", caps.Backend)
	}
	if !caps.FrameFallback {
		t.Error("FrameFallback = false with both tools present")
	}
}

func TestCachedDoctor_TTL(t *testing.T) {
	fake := &fakeProber{probeFn: func(ctx context.Context) (*Capabilities, error) {
		return &Capabilities{ClipAnalysis: true, ProbedAt: time.Now()}, nil
	}}

	doc := NewCachedDoctor(fake, 100*time.Millisecond, logging.Discard())
	ctx := context.Background()

	caps1, err := doc.Get(ctx)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if !caps1.ClipAnalysis {
		t.Error("expected ClipAnalysis=true")
	}

	caps2, _ := doc.Get(ctx)
	if caps2 != caps1 {
		t.Error("expected cached result on second call")
	}
	if fake.calls != 1 {
		t.Errorf("expected 1 call (cached), got %d", fake.calls)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := doc.Get(ctx); err != nil {
		t.Fatalf("third Get (after TTL): %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("expected 2 calls after TTL expiry, got %d", fake.calls)
	}
}

func TestCachedDoctor_StaleOnError(t *testing.T) {
	fail := false
	fake := &fakeProber{probeFn: func(ctx context.Context) (*Capabilities, error) {
		if fail {
			return nil, context.DeadlineExceeded
		}
		return &Capabilities{FrameFallback: true, ProbedAt: time.Now()}, nil
	}}

	doc := NewCachedDoctor(fake, time.Minute, logging.Discard())
	ctx := context.Background()

	if _, err := doc.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	fail = true
	caps, err := doc.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh with stale cache: %v", err)
	}
	if !caps.FrameFallback {
		t.Error("expected stale capabilities")
	}

	doc.Invalidate()
	if doc.Peek() != nil {
		t.Error("Peek() after Invalidate should be nil")
	}
	if _, err := doc.Refresh(ctx); err == nil {
		t.Error("expected error without cache")
	}
}
