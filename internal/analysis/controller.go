// Package analysis turns an uploaded video into a structured account of
// events. The Controller escalates through three stages: a coarse whole-clip
// pass, a finer whole-clip pass, and a local frame-by-frame fallback.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sigmaintel/sigma-agent/internal/inference"
	"github.com/sigmaintel/sigma-agent/internal/logging"
	"github.com/sigmaintel/sigma-agent/internal/metrics"
	"github.com/sigmaintel/sigma-agent/internal/progress"
)

// Stage identifies a step of the escalation.
type Stage int

const (
	StageCoarse Stage = iota + 1
	StageFine
	StageLocal
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageCoarse:
		return "coarse"
	case StageFine:
		return "fine"
	case StageLocal:
		return "local"
	case StageDone:
		return "done"
	}
	return "unknown"
}

// Title is the human readable stage name published with progress.
func (s Stage) Title() string {
	switch s {
	case StageCoarse:
		return "Initial analysis"
	case StageFine:
		return "Re-analysis (fine windows)"
	case StageLocal:
		return "Frame-by-frame analysis"
	}
	return s.String()
}

// advance picks the stage after s given its result. A positive result, or
// any result of the local stage, ends the escalation.
func advance(s Stage, res *Result) Stage {
	if res.Positive() {
		return StageDone
	}
	switch s {
	case StageCoarse:
		return StageFine
	case StageFine:
		return StageLocal
	}
	return StageDone
}

// Request describes one analysis attempt. A zero Params uses the controller's
// baseline parameters.
type Request struct {
	VideoPath string
	Domain    string
	Params    Params
}

// LocalStage is the frame fallback.
type LocalStage interface {
	Analyze(ctx context.Context, videoPath, domain string) (*Result, error)
}

// Controller runs the escalation for one video at a time per call. It
// publishes PROCESSING progress for every stage it enters but never a
// terminal state; that and persistence belong to the caller.
type Controller struct {
	clip     inference.ClipAnalyzer
	local    LocalStage
	progress progress.Store
	baseline Params
	refine   RefinePolicy
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type ControllerConfig struct {
	Baseline Params
	Refine   RefinePolicy
}

func NewController(clip inference.ClipAnalyzer, local LocalStage, store progress.Store, cfg ControllerConfig, m *metrics.Metrics, logger *slog.Logger) *Controller {
	return &Controller{
		clip:     clip,
		local:    local,
		progress: store,
		baseline: cfg.Baseline,
		refine:   cfg.Refine,
		metrics:  m,
		logger:   logging.WithComponent(logger, "escalation"),
	}
}

// Run analyses req.VideoPath, publishing progress under key. Errors are
// returned as *AttemptError naming the failed stage.
func (c *Controller) Run(ctx context.Context, key string, req Request) (*Result, error) {
	params := req.Params
	if params.IsZero() {
		params = c.baseline
	}
	domain, known := NormalizeDomain(req.Domain)
	if !known {
		domain, _ = NormalizeDomain(params.Domain)
	}
	params.Domain = domain

	if err := params.Validate(); err != nil {
		return nil, &AttemptError{Stage: StageCoarse, Err: err}
	}

	logger := logging.WithIncidentID(c.logger, key)
	stage := StageCoarse
	var res *Result
	for stage != StageDone {
		c.publish(ctx, logger, key, progress.Processing(int(stage), stage.Title()))
		stageLog := logging.WithStage(logger, int(stage), stage.String())
		stageLog.Info("stage started")

		start := time.Now()
		var err error
		res, err = c.runStage(ctx, stage, req.VideoPath, params, domain)
		if err != nil {
			c.metrics.ObserveStage(stage.String(), metrics.OutcomeError, time.Since(start))
			stageLog.Warn("stage failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
			return nil, &AttemptError{Stage: stage, Err: err}
		}
		res.Stage = int(stage)

		outcome := metrics.OutcomeNegative
		if res.Positive() {
			outcome = metrics.OutcomePositive
		}
		c.metrics.ObserveStage(stage.String(), outcome, time.Since(start))
		stageLog.Info("stage finished",
			"has_event", res.HasEvent,
			"events", len(res.Events),
			"duration_ms", time.Since(start).Milliseconds(),
		)

		stage = advance(stage, res)
	}
	return res, nil
}

func (c *Controller) runStage(ctx context.Context, stage Stage, videoPath string, params Params, domain string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch stage {
	case StageCoarse:
		return c.analyzeClip(ctx, videoPath, params)
	case StageFine:
		return c.analyzeClip(ctx, videoPath, c.refine.Refine(params))
	case StageLocal:
		return c.local.Analyze(ctx, videoPath, domain)
	}
	return nil, errors.New("no work for stage " + stage.String())
}

func (c *Controller) analyzeClip(ctx context.Context, videoPath string, p Params) (*Result, error) {
	resp, err := c.clip.AnalyzeClip(ctx, videoPath, inference.ClipParams{
		TargetFPS:       p.TargetFPS,
		WindowSec:       p.WindowSec,
		FramesPerWindow: p.FramesPerWindow,
		MaxHighlights:   p.MaxHighlights,
		Domain:          p.Domain,
	})
	if err != nil {
		return nil, err
	}
	return FromClipResponse(resp, p.Domain), nil
}

// publish failures are logged and never fail the attempt.
func (c *Controller) publish(ctx context.Context, logger *slog.Logger, key string, st progress.State) {
	if c.progress == nil {
		return
	}
	if err := c.progress.Set(ctx, key, st); err != nil {
		logger.Warn("progress publish failed", "status", st.Status, "stage", st.Stage, "error", err)
	}
}
