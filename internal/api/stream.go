package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sigmaintel/sigma-agent/internal/progress"
)

const (
	defaultStreamInterval = time.Second
	defaultStreamMaxPolls = 600
	wsWriteTimeout        = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by CORSAllowlist for browsers that send them.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// watchStatus polls the incident status and calls emit whenever it changes.
// It returns after emitting a terminal state, once the poll budget is spent,
// or when ctx ends. It reports whether a terminal state was seen.
func watchStatus(ctx context.Context, cfg ServerConfig, id string, emit func(progress.State) error) (bool, error) {
	interval := cfg.StreamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	polls := cfg.StreamMaxPolls
	if polls <= 0 {
		polls = defaultStreamMaxPolls
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *progress.State
	for i := 0; i < polls; i++ {
		st, err := cfg.Incidents.Status(ctx, id)
		if err != nil {
			return false, err
		}
		if last == nil || !last.Equal(st) {
			if err := emit(st); err != nil {
				return false, err
			}
			last = &st
		}
		if st.Status.Terminal() {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
	return false, nil
}

func statusStreamHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := cfg.Incidents.Status(r.Context(), id); err != nil {
			writeServiceError(w, cfg, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, "streaming unsupported", "INTERNAL_ERROR")
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		send := func(v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		terminal, err := watchStatus(r.Context(), cfg, id, func(st progress.State) error { return send(st) })
		if err != nil {
			if r.Context().Err() == nil {
				cfg.Logger.Debug("status stream ended", "incident_id", id, "error", err)
			}
			return
		}
		if terminal {
			send(streamClose)
		}
	}
}

func statusWebSocketHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := cfg.Incidents.Status(r.Context(), id); err != nil {
			writeServiceError(w, cfg, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			cfg.Logger.Debug("websocket upgrade failed", "incident_id", id, "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Drain client frames so close messages are noticed.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		send := func(v any) error {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			return conn.WriteJSON(v)
		}

		terminal, err := watchStatus(ctx, cfg, id, func(st progress.State) error { return send(st) })
		if err != nil {
			if ctx.Err() == nil {
				cfg.Logger.Debug("status websocket ended", "incident_id", id, "error", err)
			}
			return
		}
		if terminal {
			send(streamClose)
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}
