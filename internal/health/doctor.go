package health

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const defaultCacheTTL = time.Minute

// Prober inspects the environment.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// Pinger is a backend with a cheap liveness call.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemProber looks up ffmpeg and ffprobe on PATH and pings the inference
// backend.
type SystemProber struct {
	backend  Pinger
	lookPath func(string) (string, error)
}

func NewSystemProber(backend Pinger) *SystemProber {
	return &SystemProber{backend: backend, lookPath: exec.LookPath}
}

// Probe only fails when ctx is done; missing tools are reported in the result.
func (p *SystemProber) Probe(ctx context.Context) (*Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	caps := &Capabilities{
		FFmpeg:   p.lookup("ffmpeg"),
		FFprobe:  p.lookup("ffprobe"),
		ProbedAt: time.Now(),
	}

	if p.backend == nil {
		caps.Backend = DepInfo{Error: "not configured"}
	} else if err := p.backend.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		caps.Backend = DepInfo{Error: err.Error()}
	} else {
		caps.Backend = DepInfo{Available: true}
	}

	caps.ClipAnalysis = caps.Backend.Available
	caps.FrameFallback = caps.FFmpeg.Available && caps.FFprobe.Available
	return caps, nil
}

func (p *SystemProber) lookup(name string) DepInfo {
	path, err := p.lookPath(name)
	if err != nil {
		return DepInfo{Error: err.Error()}
	}
	return DepInfo{Available: true, Path: path}
}

// CachedDoctor wraps a Prober to cache results for a TTL. When a probe fails
// the previous result, if any, is returned instead.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober Prober, ttl time.Duration, logger *slog.Logger) *CachedDoctor {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedDoctor{
		prober: prober,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("capability probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	if d.cached == nil || d.cached.AllOK() != caps.AllOK() {
		d.logger.Info("capabilities probed",
			"ffmpeg", caps.FFmpeg.Available,
			"ffprobe", caps.FFprobe.Available,
			"backend", caps.Backend.Available,
		)
	}
	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
