package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sigmaintel/sigma-agent/internal/export"
	"github.com/sigmaintel/sigma-agent/internal/incident"
	"github.com/sigmaintel/sigma-agent/internal/media"
	"github.com/sigmaintel/sigma-agent/internal/playback"
)

const (
	defaultMaxUpload = 500 << 20
	// multipartSlack covers boundaries and the small form fields around the file.
	multipartSlack = 1 << 20
	formMemory     = 32 << 20

	defaultListLimit = 10
	maxListLimit     = 100

	docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUpload
	}

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartSlack)
		if err := r.ParseMultipartForm(formMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				WriteError(w, http.StatusRequestEntityTooLarge, "file too large", "TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "invalid multipart form", "BAD_REQUEST")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "file is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			if guessed := media.TypeByExtension(header.Filename); guessed != "" {
				contentType = guessed
			}
		}

		inc, err := cfg.Incidents.Upload(r.Context(), incident.UploadRequest{
			Filename:    header.Filename,
			ContentType: contentType,
			Domain:      r.FormValue("domain"),
			Body:        file,
			MaxBytes:    maxBytes,
		})
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, UploadResponse{
			IncidentID: inc.ID,
			Status:     inc.Status,
			StreamURL:  fmt.Sprintf("%s/incidents/%s/status/stream", apiPrefix, inc.ID),
		})
	}
}

func listIncidentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", defaultListLimit)
		if err != nil || limit < 1 || limit > maxListLimit {
			WriteError(w, http.StatusBadRequest, "limit must be between 1 and 100", "BAD_REQUEST")
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil || offset < 0 {
			WriteError(w, http.StatusBadRequest, "offset must not be negative", "BAD_REQUEST")
			return
		}

		incidents, total, err := cfg.Incidents.List(r.Context(), limit, offset)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if incidents == nil {
			incidents = []*incident.Incident{}
		}
		WriteJSON(w, http.StatusOK, IncidentsResponse{
			Incidents: incidents,
			Total:     total,
			Limit:     limit,
			Offset:    offset,
		})
	}
}

func getIncidentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inc, err := cfg.Incidents.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, inc)
	}
}

func deleteIncidentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Incidents.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := cfg.Incidents.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}

func searchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := cfg.Incidents.Search(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("prompt"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func reportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		doc, err := cfg.Incidents.Report(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		w.Header().Set("Content-Type", docxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report_%s.docx"`, id))
		w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
		w.WriteHeader(http.StatusOK)
		w.Write(doc)
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		inc, err := cfg.Incidents.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}

		err = cfg.Playback.ServeVideo(w, r, inc.VideoPath, inc.ContentType)
		switch {
		case errors.Is(err, playback.ErrNotFound):
			WriteError(w, http.StatusNotFound, "video file not found", "VIDEO_MISSING")
		case err != nil:
			cfg.Logger.Error("playback error", "error", err, "incident_id", id)
			WriteError(w, http.StatusInternalServerError, "playback failed", "INTERNAL_ERROR")
		}
	}
}

// highlightsHandler exports the highlight span of every event as an EDL. The
// frame rate comes from ?fps, defaulting to export.DefaultFrameRate.
func highlightsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		fps, err := strconv.ParseFloat(r.URL.Query().Get("fps"), 64)
		if r.URL.Query().Has("fps") && (err != nil || fps <= 0) {
			WriteError(w, http.StatusBadRequest, "fps must be a positive number", "BAD_REQUEST")
			return
		}

		inc, err := cfg.Incidents.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if !inc.Analysed() {
			writeServiceError(w, cfg, incident.ErrNotAnalysed)
			return
		}
		events, err := cfg.Incidents.ListEvents(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}

		clips := make([]export.Clip, 0, len(events))
		for _, e := range events {
			clips = append(clips, export.Clip{
				Name:      fmt.Sprintf("%02d %s", e.Seq+1, e.EventType),
				MediaPath: inc.VideoPath,
				StartSec:  e.HighlightStartSec,
				EndSec:    e.HighlightEndSec,
			})
		}
		title := inc.OriginalFilename
		if title == "" {
			title = inc.ID
		}
		edl := export.GenerateEDL(clips, title+" highlights", fps)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="highlights_%s.edl"`, id))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(edl))
	}
}

func listEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := cfg.Incidents.ListEvents(r.Context(), r.URL.Query().Get("incident_id"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if events == nil {
			events = []*incident.Event{}
		}
		WriteJSON(w, http.StatusOK, EventsResponse{Events: events})
	}
}

func getEventHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := cfg.Incidents.GetEvent(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, incident.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "event not found", "NOT_FOUND")
			return
		}
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, e)
	}
}

func listTimelinesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := cfg.Incidents.ListTimeline(r.Context(), r.URL.Query().Get("incident_id"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if entries == nil {
			entries = []*incident.TimelineEntry{}
		}
		WriteJSON(w, http.StatusOK, TimelineResponse{Timeline: entries})
	}
}

func listLogsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := cfg.Incidents.ListLogs(r.Context(), r.URL.Query().Get("incident_id"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if logs == nil {
			logs = []*incident.LogEntry{}
		}
		WriteJSON(w, http.StatusOK, LogsResponse{Logs: logs})
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
