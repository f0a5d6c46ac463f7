package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sigmaintel/sigma-agent/internal/inference"
	"github.com/sigmaintel/sigma-agent/internal/media"
	"github.com/sigmaintel/sigma-agent/internal/metrics"
)

// Prober reads container metadata.
type Prober interface {
	Probe(ctx context.Context, filePath string) (*media.ProbeResult, error)
}

// LocalConfig tunes the frame-by-frame fallback.
type LocalConfig struct {
	WindowSec       float64
	FramesPerWindow int
	Concurrency     int
}

// DefaultLocalConfig uses 2s windows, 4 frames each, 5 requests in flight.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		WindowSec:       2.0,
		FramesPerWindow: 4,
		Concurrency:     DefaultConcurrency,
	}
}

// LocalAnalyzer is stage 3: it plans windows over the video, samples frames
// per window and asks the frame analyzer about each window concurrently.
type LocalAnalyzer struct {
	prober  Prober
	sampler *Sampler
	frames  inference.FrameAnalyzer
	cfg     LocalConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewLocalAnalyzer(prober Prober, sampler *Sampler, frames inference.FrameAnalyzer, cfg LocalConfig, m *metrics.Metrics, logger *slog.Logger) *LocalAnalyzer {
	return &LocalAnalyzer{
		prober:  prober,
		sampler: sampler,
		frames:  frames,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Analyze runs the fallback over videoPath. domain must already be normalized;
// empty means unknown.
func (a *LocalAnalyzer) Analyze(ctx context.Context, videoPath, domain string) (*Result, error) {
	info, err := a.prober.Probe(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("probe video: %w", err)
	}

	windows, err := Plan(info.Duration, a.cfg.WindowSec)
	if err != nil {
		return nil, err
	}

	fps := info.FrameRate
	if fps <= 0 {
		fps = defaultFrameRate
	}
	meta := Metadata{
		DurationSec: info.Duration,
		FrameCount:  int(math.Round(math.Max(info.Duration, 0) * fps)),
		WindowCount: len(windows),
	}

	start := time.Now()
	batch, err := Dispatch(ctx, windows, a.cfg.Concurrency, func(ctx context.Context, w WindowSpec) (WindowFinding, error) {
		return a.analyzeWindow(ctx, videoPath, w, domain)
	})
	if err != nil {
		return nil, fmt.Errorf("frame analysis: %w", err)
	}

	for _, f := range batch.Failures {
		outcome := metrics.WindowFailed
		if errors.Is(f.Err, ErrNoFrames) {
			outcome = metrics.WindowNoFrames
		}
		a.metrics.WindowDone(outcome)
		a.logger.Warn("window dropped", "window_index", f.Index, "error", f.Err)
	}
	for range batch.Findings {
		a.metrics.WindowDone(metrics.WindowAnalyzed)
	}

	a.logger.Info("frame analysis complete",
		"windows", len(windows),
		"analyzed", len(batch.Findings),
		"dropped", len(batch.Failures),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return assembleLocal(batch.Findings, domain, meta), nil
}

func (a *LocalAnalyzer) analyzeWindow(ctx context.Context, videoPath string, w WindowSpec, domain string) (WindowFinding, error) {
	frames, err := a.sampler.Sample(ctx, videoPath, w, a.cfg.FramesPerWindow)
	if err != nil {
		return WindowFinding{}, err
	}
	if len(frames) == 0 {
		return WindowFinding{}, ErrNoFrames
	}

	a.metrics.InflightAdd(1)
	defer a.metrics.InflightAdd(-1)

	v, err := a.frames.AnalyzeFrames(ctx, frames, WindowPrompt(w, domain))
	if err != nil {
		return WindowFinding{}, err
	}
	return findingFromVerdict(w, v, domain), nil
}
