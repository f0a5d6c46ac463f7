package incident

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigmaintel/sigma-agent/internal/analysis"
	"github.com/sigmaintel/sigma-agent/internal/logging"
	"github.com/sigmaintel/sigma-agent/internal/metrics"
	"github.com/sigmaintel/sigma-agent/internal/progress"
)

const maxErrorMessage = 200

// Analyzer runs one analysis attempt, publishing progress under key.
type Analyzer interface {
	Run(ctx context.Context, key string, req analysis.Request) (*analysis.Result, error)
}

// sweeper is implemented by progress stores that evict expired states on demand.
type sweeper interface {
	Sweep() int
}

type RunnerConfig struct {
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
	Versions      Versions
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:       2,
		QueueSize:     64,
		SweepInterval: 5 * time.Second,
	}
}

// Runner analyses SAVED incidents on a fixed pool of workers. Incidents come
// from Enqueue and from a periodic sweep of the store, so uploads that found
// the queue full or were saved before a restart are still picked up.
type Runner struct {
	repo     Repository
	analyzer Analyzer
	progress progress.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      RunnerConfig

	queue chan string

	mu      sync.Mutex
	pending map[string]bool

	running atomic.Bool
	paused  atomic.Bool
	active  atomic.Int32
}

func NewRunner(repo Repository, analyzer Analyzer, store progress.Store, cfg RunnerConfig, m *metrics.Metrics, logger *slog.Logger) *Runner {
	def := DefaultRunnerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &Runner{
		repo:     repo,
		analyzer: analyzer,
		progress: store,
		metrics:  m,
		logger:   logging.WithComponent(logger, "runner"),
		cfg:      cfg,
		queue:    make(chan string, cfg.QueueSize),
		pending:  make(map[string]bool),
	}
}

// Enqueue schedules id unless it is already queued or being analysed. It
// reports false when the queue is full.
func (r *Runner) Enqueue(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[id] {
		return true
	}
	select {
	case r.queue <- id:
		r.pending[id] = true
		r.metrics.SetQueued(len(r.queue))
		return true
	default:
		return false
	}
}

// Start blocks until ctx is cancelled. Workers finish their current attempt
// before Start returns.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("runner started", "workers", r.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}

	r.sweep(ctx)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping")
			wg.Wait()
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveCount is the number of attempts currently running.
func (r *Runner) ActiveCount() int {
	return int(r.active.Load())
}

func (r *Runner) sweep(ctx context.Context) {
	if s, ok := r.progress.(sweeper); ok {
		if n := s.Sweep(); n > 0 {
			r.logger.Debug("expired progress states evicted", "count", n)
		}
	}
	if r.paused.Load() {
		return
	}

	saved, err := r.repo.ListIncidentsByStatus(ctx, StatusSaved, r.cfg.QueueSize)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("failed to list saved incidents", "error", err)
		}
		return
	}
	for _, inc := range saved {
		if !r.Enqueue(inc.ID) {
			break
		}
	}
}

func (r *Runner) work(ctx context.Context) {
	for {
		if r.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.metrics.SetQueued(len(r.queue))
			r.process(ctx, id)
			r.mu.Lock()
			delete(r.pending, id)
			r.mu.Unlock()
		}
	}
}

func (r *Runner) process(ctx context.Context, id string) {
	logger := logging.WithIncidentID(r.logger, id)

	inc, err := r.repo.GetIncident(ctx, id)
	if err != nil {
		logger.Error("failed to load incident", "error", err)
		return
	}
	if inc == nil || inc.Status != StatusSaved {
		return
	}

	r.active.Add(1)
	defer r.active.Add(-1)

	r.setProgress(ctx, logger, id, progress.State{Status: progress.StatusProcessing})
	if err := r.repo.UpdateIncidentStatus(ctx, id, StatusProcessing, ""); err != nil {
		logger.Error("failed to mark incident processing", "error", err)
		return
	}
	r.appendLog(ctx, logger, id, ActionProcessingStart, "")

	logger.Info("analysis started", "video", logging.SanitizePath(inc.VideoPath), "domain", inc.Domain)
	start := time.Now()

	res, err := r.analyzer.Run(ctx, id, analysis.Request{VideoPath: inc.VideoPath, Domain: inc.Domain})
	if err != nil {
		if ctx.Err() != nil {
			// Left PROCESSING; the next start marks it interrupted.
			logger.Warn("analysis interrupted by shutdown")
			return
		}
		r.fail(ctx, logger, id, err)
		return
	}

	rec := &AnalysisRecord{Result: res, ModelVersion: r.cfg.Versions.Model, PromptVersion: r.cfg.Versions.Prompt}
	if err := r.repo.SaveAnalysis(ctx, id, rec); err != nil {
		r.fail(ctx, logger, id, fmt.Errorf("save analysis: %w", err))
		return
	}

	r.appendLog(ctx, logger, id, ActionDone,
		fmt.Sprintf("stage %d, %d event(s), domain %s", res.Stage, len(res.Events), res.InferredDomain))
	r.setProgress(ctx, logger, id, progress.Done(res.HasEvent, res.InferredDomain, len(res.Events)))
	r.metrics.AttemptFinished(StatusDone)

	logger.Info("analysis completed",
		"stage", res.Stage,
		"has_event", res.HasEvent,
		"events", len(res.Events),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (r *Runner) fail(ctx context.Context, logger *slog.Logger, id string, err error) {
	msg := truncateStr(err.Error(), maxErrorMessage)
	logger.Error("analysis failed", "error", err)

	if uerr := r.repo.UpdateIncidentStatus(ctx, id, StatusError, msg); uerr != nil {
		logger.Error("failed to mark incident failed", "error", uerr)
	}
	r.appendLog(ctx, logger, id, ActionError, msg)
	r.setProgress(ctx, logger, id, progress.Failed(msg))
	r.metrics.AttemptFinished(StatusError)
}

func (r *Runner) setProgress(ctx context.Context, logger *slog.Logger, id string, st progress.State) {
	if err := r.progress.Set(ctx, id, st); err != nil {
		logger.Warn("progress publish failed", "status", st.Status, "error", err)
	}
}

func (r *Runner) appendLog(ctx context.Context, logger *slog.Logger, id, action, message string) {
	err := r.repo.AppendLog(ctx, &LogEntry{
		IncidentID:    id,
		Action:        action,
		Message:       message,
		ModelVersion:  r.cfg.Versions.Model,
		PromptVersion: r.cfg.Versions.Prompt,
	})
	if err != nil {
		logger.Warn("failed to append log", "action", action, "error", err)
	}
}

func truncateStr(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
