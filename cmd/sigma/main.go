package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sigmaintel/sigma-agent/internal/analysis"
	"github.com/sigmaintel/sigma-agent/internal/api"
	"github.com/sigmaintel/sigma-agent/internal/config"
	"github.com/sigmaintel/sigma-agent/internal/db"
	"github.com/sigmaintel/sigma-agent/internal/health"
	"github.com/sigmaintel/sigma-agent/internal/incident"
	"github.com/sigmaintel/sigma-agent/internal/inference"
	"github.com/sigmaintel/sigma-agent/internal/logging"
	"github.com/sigmaintel/sigma-agent/internal/media"
	"github.com/sigmaintel/sigma-agent/internal/metrics"
	"github.com/sigmaintel/sigma-agent/internal/playback"
	"github.com/sigmaintel/sigma-agent/internal/progress"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting sigma agent",
		"version", config.Version,
		"commit", config.GitCommit,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"backend", cfg.LLMAPIURL(),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := incident.NewRepository(database.Conn())

	storage, err := media.NewStorage(cfg.MediaDir())
	if err != nil {
		return err
	}

	store, closeStore, err := newProgressStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	esc := cfg.Escalation()

	backendCfg := inference.DefaultClientConfig(cfg.LLMAPIURL())
	backendCfg.MaxTokens = esc.Fallback.MaxTokens
	backend := inference.NewHTTPClient(backendCfg, logger)

	var frames inference.FrameAnalyzer = backend
	if cfg.FramesBackend() == config.FramesBackendOpenAI {
		frames = inference.NewOpenAIFrameAnalyzer(inference.OpenAIConfig{
			BaseURL:   cfg.OpenAIBaseURL(),
			APIKey:    cfg.OpenAIAPIKey(),
			Model:     cfg.OpenAIModel(),
			MaxTokens: esc.Fallback.MaxTokens,
		}, logger)
		logger.Info("frame fallback uses OpenAI-compatible endpoint",
			"base_url", cfg.OpenAIBaseURL(), "model", cfg.OpenAIModel())
	}

	var local analysis.LocalStage
	ffmpeg, err := media.NewRealFFmpeg(logger)
	if err != nil {
		logger.Warn("ffmpeg unavailable, frame fallback disabled", "error", err)
		local = unavailableStage{err: err}
	} else {
		sampler := analysis.NewSampler(ffmpeg, esc.Fallback.JPEGQuality, logger)
		local = analysis.NewLocalAnalyzer(ffmpeg, sampler, frames, analysis.LocalConfig{
			WindowSec:       esc.Fallback.WindowSec,
			FramesPerWindow: esc.Fallback.FramesPerWindow,
			Concurrency:     esc.Fallback.Concurrency,
		}, m, logger)
	}

	controller := analysis.NewController(backend, local, store, analysis.ControllerConfig{
		Baseline: analysis.Params{
			TargetFPS:       esc.Coarse.TargetFPS,
			WindowSec:       esc.Coarse.WindowSec,
			FramesPerWindow: esc.Coarse.FramesPerWindow,
			MaxHighlights:   esc.Coarse.MaxHighlights,
		},
		Refine: analysis.RefinePolicy(esc.Refine),
	}, m, logger)

	versions := incident.Versions{Model: cfg.ModelVersion(), Prompt: cfg.PromptVersion()}

	runnerCfg := incident.DefaultRunnerConfig()
	runnerCfg.Workers = cfg.Workers()
	runnerCfg.Versions = versions
	runner := incident.NewRunner(repo, controller, store, runnerCfg, m, logger)

	svc := incident.NewService(repo, storage, store, runner, backend, versions, logging.WithComponent(logger, "incidents"))

	doctor := health.NewCachedDoctor(health.NewSystemProber(backend), time.Minute, logger)
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if caps, err := doctor.Refresh(probeCtx); err != nil {
		logger.Warn("initial capability probe failed", "error", err)
	} else if !caps.AllOK() {
		logger.Warn("analysis running with missing dependencies",
			"clip_analysis", caps.ClipAnalysis,
			"frame_fallback", caps.FrameFallback,
		)
	}
	probeCancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runnerDone := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(runnerDone)
	}()

	apiServer := api.NewServer(api.ServerConfig{
		Host:           cfg.Host(),
		Port:           cfg.Port(),
		Incidents:      svc,
		Runner:         runner,
		Playback:       playback.NewServer(logger),
		Doctor:         doctor,
		Metrics:        m,
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		CORSOrigins:    cfg.CORSOrigins(),
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
			<-runnerDone
			return err
		}
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	cancel()
	<-runnerDone

	logger.Info("shutdown complete")
	return nil
}

func newProgressStore(cfg config.Config, logger *slog.Logger) (progress.Store, func(), error) {
	if cfg.ProgressBackend() != config.ProgressBackendRedis {
		return progress.NewMemoryStore(cfg.ProgressTTL()), func() {}, nil
	}

	client, err := progress.Connect(cfg.RedisURL())
	if err != nil {
		return nil, nil, err
	}
	store := progress.NewRedisStore(client, cfg.ProgressTTL())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis progress store unreachable: %w", err)
	}
	logger.Info("progress store connected", "backend", "redis")
	return store, func() { client.Close() }, nil
}

// unavailableStage stands in for the frame fallback when ffmpeg is missing.
type unavailableStage struct {
	err error
}

func (s unavailableStage) Analyze(context.Context, string, string) (*analysis.Result, error) {
	return nil, s.err
}
