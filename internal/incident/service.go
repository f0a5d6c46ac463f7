package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sigmaintel/sigma-agent/internal/analysis"
	"github.com/sigmaintel/sigma-agent/internal/inference"
	"github.com/sigmaintel/sigma-agent/internal/media"
	"github.com/sigmaintel/sigma-agent/internal/progress"
)

var (
	ErrNotFound = errors.New("incident not found")
	// ErrNotAnalysed is returned for operations that need a stored analysis.
	ErrNotAnalysed = errors.New("incident analysis not completed")
	ErrEmptyPrompt = errors.New("search prompt is empty")
)

// Enqueuer schedules an incident for analysis.
type Enqueuer interface {
	Enqueue(id string) bool
}

type IncidentService interface {
	Upload(ctx context.Context, req UploadRequest) (*Incident, error)
	Get(ctx context.Context, id string) (*Incident, error)
	List(ctx context.Context, limit, offset int) ([]*Incident, int, error)
	Delete(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (progress.State, error)
	Search(ctx context.Context, id, prompt string) (*SearchResult, error)
	Report(ctx context.Context, id string) ([]byte, error)

	GetEvent(ctx context.Context, id string) (*Event, error)
	ListEvents(ctx context.Context, incidentID string) ([]*Event, error)
	ListTimeline(ctx context.Context, incidentID string) ([]*TimelineEntry, error)
	ListLogs(ctx context.Context, incidentID string) ([]*LogEntry, error)
}

// UploadRequest carries one uploaded video. Domain is optional.
type UploadRequest struct {
	Filename    string
	ContentType string
	Domain      string
	Body        io.Reader
	MaxBytes    int64
}

// Versions are stamped on incidents and logs.
type Versions struct {
	Model  string
	Prompt string
}

const reportFormat = "docx"

type Service struct {
	repo     Repository
	storage  *media.Storage
	progress progress.Store
	queue    Enqueuer
	reports  inference.ReportGenerator
	versions Versions
	logger   *slog.Logger
}

func NewService(repo Repository, storage *media.Storage, store progress.Store, queue Enqueuer, reports inference.ReportGenerator, versions Versions, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		storage:  storage,
		progress: store,
		queue:    queue,
		reports:  reports,
		versions: versions,
		logger:   logger,
	}
}

// Upload stores the video, records a SAVED incident and queues it.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Incident, error) {
	ext, err := media.CheckContentType(req.ContentType)
	if err != nil {
		return nil, err
	}

	id := NewID()
	s.setProgress(ctx, id, progress.State{Status: progress.StatusUploading})

	path, size, err := s.storage.Save(id, ext, req.Body, req.MaxBytes)
	if err != nil {
		s.clearProgress(ctx, id)
		return nil, err
	}

	domain, _ := analysis.NormalizeDomain(req.Domain)
	now := time.Now()
	inc := &Incident{
		ID:               id,
		VideoPath:        path,
		OriginalFilename: req.Filename,
		ContentType:      req.ContentType,
		SizeBytes:        size,
		Domain:           domain,
		Status:           StatusSaved,
		ModelVersion:     s.versions.Model,
		PromptVersion:    s.versions.Prompt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateIncident(ctx, inc); err != nil {
		if rerr := s.storage.Remove(path); rerr != nil && s.logger != nil {
			s.logger.Warn("failed to remove video", "incident_id", id, "error", rerr)
		}
		s.clearProgress(ctx, id)
		return nil, fmt.Errorf("create incident: %w", err)
	}

	s.appendLog(ctx, id, ActionUploaded, fmt.Sprintf("%s (%d bytes)", req.Filename, size))
	s.setProgress(ctx, id, progress.State{Status: progress.StatusSaved})

	if s.logger != nil {
		s.logger.Info("incident uploaded", "incident_id", id, "size_bytes", size, "domain", domain)
	}

	if s.queue != nil && !s.queue.Enqueue(id) && s.logger != nil {
		s.logger.Info("analysis queue full, incident left for sweep", "incident_id", id)
	}
	return inc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Incident, error) {
	inc, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	return inc, nil
}

// List returns one page of incidents, newest first, and the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Incident, int, error) {
	incidents, err := s.repo.ListIncidents(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountIncidents(ctx)
	if err != nil {
		return nil, 0, err
	}
	return incidents, total, nil
}

// Delete removes the incident, its rows, its progress and its video file.
func (s *Service) Delete(ctx context.Context, id string) error {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteIncident(ctx, id); err != nil {
		return err
	}
	if err := s.storage.Remove(inc.VideoPath); err != nil && s.logger != nil {
		s.logger.Warn("failed to remove video", "incident_id", id, "error", err)
	}
	s.clearProgress(ctx, id)
	if s.logger != nil {
		s.logger.Info("incident deleted", "incident_id", id)
	}
	return nil
}

// Status returns the live progress of an incident. Incidents with no live
// state, after a restart or once the terminal state expired, are reported from
// the stored record. A finished record also wins over a stale non-terminal
// live state, such as one left behind by an attempt cut short by a restart.
func (s *Service) Status(ctx context.Context, id string) (progress.State, error) {
	st, err := s.progress.Get(ctx, id)
	if err != nil {
		return progress.State{}, err
	}
	if st.Status.Terminal() {
		return st, nil
	}

	inc, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return progress.State{}, err
	}
	switch {
	case inc == nil && st.Status == progress.StatusPending:
		return progress.State{}, ErrNotFound
	case inc == nil:
		// Upload still streaming; the record does not exist yet.
		return st, nil
	case st.Status == progress.StatusPending, inc.Finished():
		return stateFromIncident(inc), nil
	}
	return st, nil
}

func stateFromIncident(inc *Incident) progress.State {
	switch inc.Status {
	case StatusDone:
		events := 0
		if inc.HasEvent {
			var res analysis.Result
			if err := json.Unmarshal(inc.AnalysisJSON, &res); err == nil {
				events = len(res.Events)
			}
		}
		return progress.Done(inc.HasEvent, inc.InferredDomain, events)
	case StatusError:
		return progress.Failed(inc.Error)
	case StatusProcessing:
		return progress.State{Status: progress.StatusProcessing, Stage: inc.Stage}
	}
	return progress.State{Status: progress.StatusSaved}
}

// Search matches the prompt's words against timeline captions. A window
// matches when its caption contains any word of the prompt, case-insensitively.
func (s *Service) Search(ctx context.Context, id, prompt string) (*SearchResult, error) {
	words := strings.Fields(strings.ToLower(prompt))
	if len(words) == 0 {
		return nil, ErrEmptyPrompt
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	timeline, err := s.repo.ListTimeline(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Prompt:       prompt,
		TotalWindows: len(timeline),
		Results:      []SearchMatch{},
	}
	for _, t := range timeline {
		caption := strings.ToLower(t.Caption)
		for _, w := range words {
			if strings.Contains(caption, w) {
				result.Results = append(result.Results, SearchMatch{
					WindowIndex:    t.WindowIndex,
					TimestampSec:   t.TimestampSec,
					IntervalEndSec: t.IntervalEndSec,
					Caption:        t.Caption,
					RiskScore:      t.RiskScore,
					EventType:      t.EventType,
				})
				break
			}
		}
	}
	result.Matches = len(result.Results)
	return result, nil
}

// Report renders the stored analysis as a DOCX document through the backend.
func (s *Service) Report(ctx context.Context, id string) ([]byte, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inc.Analysed() {
		return nil, ErrNotAnalysed
	}
	if s.reports == nil {
		return nil, inference.ErrBackendUnavailable
	}
	return s.reports.GenerateReport(ctx, string(inc.AnalysisJSON), inc.VideoPath, reportFormat)
}

func (s *Service) GetEvent(ctx context.Context, id string) (*Event, error) {
	e, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *Service) ListEvents(ctx context.Context, incidentID string) ([]*Event, error) {
	return s.repo.ListEvents(ctx, incidentID)
}

func (s *Service) ListTimeline(ctx context.Context, incidentID string) ([]*TimelineEntry, error) {
	return s.repo.ListTimeline(ctx, incidentID)
}

func (s *Service) ListLogs(ctx context.Context, incidentID string) ([]*LogEntry, error) {
	return s.repo.ListLogs(ctx, incidentID)
}

func (s *Service) setProgress(ctx context.Context, id string, st progress.State) {
	if err := s.progress.Set(ctx, id, st); err != nil && s.logger != nil {
		s.logger.Warn("progress publish failed", "incident_id", id, "status", st.Status, "error", err)
	}
}

func (s *Service) clearProgress(ctx context.Context, id string) {
	if err := s.progress.Delete(ctx, id); err != nil && s.logger != nil {
		s.logger.Warn("failed to clear progress", "incident_id", id, "error", err)
	}
}

func (s *Service) appendLog(ctx context.Context, id, action, message string) {
	err := s.repo.AppendLog(ctx, &LogEntry{
		IncidentID:    id,
		Action:        action,
		Message:       message,
		ModelVersion:  s.versions.Model,
		PromptVersion: s.versions.Prompt,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("failed to append log", "incident_id", id, "action", action, "error", err)
	}
}
