package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sigmaintel/sigma-agent/internal/incident"
	"github.com/sigmaintel/sigma-agent/internal/inference"
	"github.com/sigmaintel/sigma-agent/internal/media"
)

const apiPrefix = "/api/v1"

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.CORSOrigins))

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route(apiPrefix, func(r chi.Router) {
		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", listIncidentsHandler(cfg))
			r.Post("/upload", uploadHandler(cfg))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", getIncidentHandler(cfg))
				r.Delete("/", deleteIncidentHandler(cfg))
				r.Get("/status", statusHandler(cfg))
				r.Get("/status/stream", statusStreamHandler(cfg))
				r.Get("/status/ws", statusWebSocketHandler(cfg))
				r.Post("/search", searchHandler(cfg))
				r.Get("/report", reportHandler(cfg))
				r.Get("/media", mediaHandler(cfg))
				r.Head("/media", mediaHandler(cfg))
				r.Get("/highlights.edl", highlightsHandler(cfg))
			})
		})

		r.Get("/events", listEventsHandler(cfg))
		r.Get("/events/{id}", getEventHandler(cfg))
		r.Get("/timelines", listTimelinesHandler(cfg))
		r.Get("/logs", listLogsHandler(cfg))

		r.Post("/runner/pause", pauseRunnerHandler(cfg))
		r.Post("/runner/resume", resumeRunnerHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		}
		if cfg.Runner != nil {
			resp.Runner = runnerState(cfg.Runner)
		}
		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(r.Context())
			if err == nil && caps != nil {
				resp.Capabilities = caps
				if !caps.AllOK() {
					resp.Status = "degraded"
				}
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func pauseRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, runnerState(cfg.Runner))
	}
}

func resumeRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, runnerState(cfg.Runner))
	}
}

func runnerState(rc RunnerControl) *RunnerResponse {
	return &RunnerResponse{
		Running: rc.IsRunning(),
		Paused:  rc.IsPaused(),
		Active:  rc.ActiveCount(),
	}
}

// writeServiceError maps service and backend errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, cfg ServerConfig, err error) {
	var maxErr *http.MaxBytesError
	var backendErr *inference.BackendError
	switch {
	case errors.Is(err, incident.ErrNotFound):
		WriteError(w, http.StatusNotFound, "incident not found", "NOT_FOUND")
	case errors.Is(err, incident.ErrNotAnalysed):
		WriteError(w, http.StatusTooEarly, "analysis not completed yet", "NOT_READY")
	case errors.Is(err, incident.ErrEmptyPrompt):
		WriteError(w, http.StatusBadRequest, "prompt is required", "BAD_REQUEST")
	case errors.Is(err, media.ErrTooLarge), errors.As(err, &maxErr):
		WriteError(w, http.StatusRequestEntityTooLarge, "file too large", "TOO_LARGE")
	case errors.Is(err, media.ErrUnsupportedType):
		WriteError(w, http.StatusUnsupportedMediaType, err.Error(), "UNSUPPORTED_MEDIA_TYPE")
	case errors.Is(err, inference.ErrBackendUnavailable), errors.As(err, &backendErr):
		cfg.Logger.Warn("inference backend error", "error", err)
		WriteError(w, http.StatusBadGateway, "analysis backend unavailable", "BACKEND_ERROR")
	default:
		cfg.Logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
