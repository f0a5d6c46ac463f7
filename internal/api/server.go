package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sigmaintel/sigma-agent/internal/health"
	"github.com/sigmaintel/sigma-agent/internal/incident"
	"github.com/sigmaintel/sigma-agent/internal/metrics"
	"github.com/sigmaintel/sigma-agent/internal/playback"
)

// RunnerControl is the part of the analysis runner exposed over HTTP.
type RunnerControl interface {
	Pause()
	Resume()
	IsPaused() bool
	IsRunning() bool
	ActiveCount() int
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Host           string
	Port           int
	Incidents      incident.IncidentService
	Runner         RunnerControl
	Playback       *playback.Server
	Doctor         *health.CachedDoctor
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
	MaxUploadBytes int64
	CORSOrigins    []string

	// Status stream pacing. Zero values use one poll per second, at most 600.
	StreamInterval time.Duration
	StreamMaxPolls int
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			// Uploads and status streams are long lived.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
