package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sigmaintel/sigma-agent/internal/analysis"
	"github.com/sigmaintel/sigma-agent/internal/db"
)

// AnalysisRecord is a finished analysis ready to be persisted.
type AnalysisRecord struct {
	Result        *analysis.Result
	ModelVersion  string
	PromptVersion string
}

type Repository interface {
	CreateIncident(ctx context.Context, inc *Incident) error
	GetIncident(ctx context.Context, id string) (*Incident, error)
	ListIncidents(ctx context.Context, limit, offset int) ([]*Incident, error)
	ListIncidentsByStatus(ctx context.Context, status string, limit int) ([]*Incident, error)
	CountIncidents(ctx context.Context) (int, error)
	UpdateIncidentStatus(ctx context.Context, id, status, errMsg string) error
	DeleteIncident(ctx context.Context, id string) error

	SaveAnalysis(ctx context.Context, id string, rec *AnalysisRecord) error

	GetEvent(ctx context.Context, id string) (*Event, error)
	ListEvents(ctx context.Context, incidentID string) ([]*Event, error)
	ListTimeline(ctx context.Context, incidentID string) ([]*TimelineEntry, error)

	AppendLog(ctx context.Context, entry *LogEntry) error
	ListLogs(ctx context.Context, incidentID string) ([]*LogEntry, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const incidentColumns = `id, video_path, original_filename, content_type, size_bytes, domain, status,
	inferred_domain, has_event, duration_sec, num_frames, num_windows, stage,
	model_version, prompt_version, analysis_json, error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) CreateIncident(ctx context.Context, inc *Incident) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO incidents (id, video_path, original_filename, content_type, size_bytes, domain, status,
			model_version, prompt_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inc.ID, inc.VideoPath, nullString(inc.OriginalFilename), nullString(inc.ContentType), inc.SizeBytes,
		nullString(inc.Domain), inc.Status, nullString(inc.ModelVersion), nullString(inc.PromptVersion),
		formatTime(inc.CreatedAt), formatTime(inc.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetIncident(ctx context.Context, id string) (*Incident, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inc, err
}

func (r *SQLiteRepository) ListIncidents(ctx context.Context, limit, offset int) ([]*Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// ListIncidentsByStatus returns the oldest incidents in status first.
func (r *SQLiteRepository) ListIncidentsByStatus(ctx context.Context, status string, limit int) ([]*Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

func (r *SQLiteRepository) CountIncidents(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM incidents").Scan(&count)
	return count, err
}

func (r *SQLiteRepository) UpdateIncidentStatus(ctx context.Context, id, status, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE incidents SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) DeleteIncident(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM incidents WHERE id = ?", id)
	return err
}

// SaveAnalysis replaces the incident's timeline and events with the result and
// marks the incident DONE, all in one transaction.
func (r *SQLiteRepository) SaveAnalysis(ctx context.Context, id string, rec *AnalysisRecord) error {
	res := rec.Result
	blob, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM timelines WHERE incident_id = ?",
		"DELETE FROM events WHERE incident_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}

	for _, w := range res.Timeline {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO timelines (id, incident_id, window_idx, timestamp_sec, interval_end_sec, label, has_event, caption, risk_score, event_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, NewID(), id, w.WindowIndex, w.StartSec, w.EndSec, w.Label, boolToInt(w.HasEvent),
			w.Caption, w.RiskScore, nullString(w.EventType)); err != nil {
			return fmt.Errorf("insert timeline window %d: %w", w.WindowIndex, err)
		}
	}

	now := formatTime(time.Now())
	for seq, e := range res.Events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, incident_id, seq, event_type, interval_start_sec, interval_end_sec,
				description, highlight_start_sec, highlight_end_sec, confidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, NewID(), id, seq, e.EventType, e.IntervalStartSec, e.IntervalEndSec,
			e.Description, e.HighlightStartSec, e.HighlightEndSec, EventConfidence, now); err != nil {
			return fmt.Errorf("insert event %d: %w", seq, err)
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE incidents SET status = ?, inferred_domain = ?, has_event = ?, duration_sec = ?,
			num_frames = ?, num_windows = ?, stage = ?, model_version = ?, prompt_version = ?,
			analysis_json = ?, error = NULL, updated_at = ?
		WHERE id = ?
	`, StatusDone, res.InferredDomain, boolToInt(res.HasEvent), res.Metadata.DurationSec,
		res.Metadata.FrameCount, res.Metadata.WindowCount, res.Stage,
		nullString(rec.ModelVersion), nullString(rec.PromptVersion), string(blob), now, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}

	return tx.Commit()
}

func (r *SQLiteRepository) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

const eventColumns = `id, incident_id, seq, event_type, interval_start_sec, interval_end_sec,
	description, highlight_start_sec, highlight_end_sec, confidence, created_at`

// ListEvents returns the events of one incident in detection order, or of all
// incidents when incidentID is empty.
func (r *SQLiteRepository) ListEvents(ctx context.Context, incidentID string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	var args []any
	if incidentID != "" {
		query += ` WHERE incident_id = ?`
		args = append(args, incidentID)
	}
	query += ` ORDER BY created_at DESC, incident_id, seq`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *SQLiteRepository) ListTimeline(ctx context.Context, incidentID string) ([]*TimelineEntry, error) {
	query := `SELECT id, incident_id, window_idx, timestamp_sec, interval_end_sec, label, has_event, caption, risk_score, event_type FROM timelines`
	var args []any
	if incidentID != "" {
		query += ` WHERE incident_id = ?`
		args = append(args, incidentID)
	}
	query += ` ORDER BY incident_id, window_idx`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*TimelineEntry{}
	for rows.Next() {
		var t TimelineEntry
		var hasEvent int
		var caption, eventType sql.NullString
		if err := rows.Scan(&t.ID, &t.IncidentID, &t.WindowIndex, &t.TimestampSec, &t.IntervalEndSec,
			&t.Label, &hasEvent, &caption, &t.RiskScore, &eventType); err != nil {
			return nil, err
		}
		t.HasEvent = hasEvent == 1
		t.Caption = caption.String
		t.EventType = eventType.String
		entries = append(entries, &t)
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) AppendLog(ctx context.Context, l *LogEntry) error {
	if l.ID == "" {
		l.ID = NewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO logs (id, incident_id, action, message, model_version, prompt_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.IncidentID, l.Action, nullString(l.Message), nullString(l.ModelVersion),
		nullString(l.PromptVersion), formatTime(l.CreatedAt))
	return err
}

func (r *SQLiteRepository) ListLogs(ctx context.Context, incidentID string) ([]*LogEntry, error) {
	query := `SELECT id, incident_id, action, message, model_version, prompt_version, created_at FROM logs`
	var args []any
	if incidentID != "" {
		query += ` WHERE incident_id = ?`
		args = append(args, incidentID)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*LogEntry{}
	for rows.Next() {
		var l LogEntry
		var message, modelVersion, promptVersion sql.NullString
		var createdAt string
		if err := rows.Scan(&l.ID, &l.IncidentID, &l.Action, &message, &modelVersion, &promptVersion, &createdAt); err != nil {
			return nil, err
		}
		l.Message = message.String
		l.ModelVersion = modelVersion.String
		l.PromptVersion = promptVersion.String
		l.CreatedAt = parseTime(createdAt)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func scanIncident(row scanner) (*Incident, error) {
	var inc Incident
	var originalFilename, contentType, domain, inferredDomain, modelVersion, promptVersion, analysisJSON, errMsg sql.NullString
	var durationSec sql.NullFloat64
	var numFrames, numWindows, stage sql.NullInt64
	var hasEvent int
	var createdAt, updatedAt string

	err := row.Scan(&inc.ID, &inc.VideoPath, &originalFilename, &contentType, &inc.SizeBytes, &domain, &inc.Status,
		&inferredDomain, &hasEvent, &durationSec, &numFrames, &numWindows, &stage,
		&modelVersion, &promptVersion, &analysisJSON, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	inc.OriginalFilename = originalFilename.String
	inc.ContentType = contentType.String
	inc.Domain = domain.String
	inc.InferredDomain = inferredDomain.String
	inc.HasEvent = hasEvent == 1
	inc.DurationSec = durationSec.Float64
	inc.NumFrames = int(numFrames.Int64)
	inc.NumWindows = int(numWindows.Int64)
	inc.Stage = int(stage.Int64)
	inc.ModelVersion = modelVersion.String
	inc.PromptVersion = promptVersion.String
	if analysisJSON.Valid && analysisJSON.String != "" {
		inc.AnalysisJSON = json.RawMessage(analysisJSON.String)
	}
	inc.Error = errMsg.String
	inc.CreatedAt = parseTime(createdAt)
	inc.UpdatedAt = parseTime(updatedAt)
	return &inc, nil
}

func scanIncidents(rows *sql.Rows) ([]*Incident, error) {
	incidents := []*Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func scanEvent(row scanner) (*Event, error) {
	var e Event
	var description sql.NullString
	var createdAt string
	if err := row.Scan(&e.ID, &e.IncidentID, &e.Seq, &e.EventType, &e.IntervalStartSec, &e.IntervalEndSec,
		&description, &e.HighlightStartSec, &e.HighlightEndSec, &e.Confidence, &createdAt); err != nil {
		return nil, err
	}
	e.Description = description.String
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(db.TimeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
