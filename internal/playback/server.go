// Package playback streams stored incident videos with HTTP Range support.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// ErrNotFound is returned when the video file is gone from disk.
var ErrNotFound = errors.New("video file not found")

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeVideo writes filePath to w, honouring Range and HEAD. contentType is
// used when set, otherwise it is guessed from the extension. Errors are
// returned before anything is written so the caller can render them.
func (s *Server) ServeVideo(w http.ResponseWriter, r *http.Request, filePath, contentType string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat video: %w", err)
	}
	size := stat.Size()

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filePath))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	rng, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	if err != nil {
		// Malformed ranges are ignored and the whole file is sent.
		rng = nil
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)

	status, offset, length := http.StatusOK, int64(0), size
	if rng != nil {
		status, offset, length = http.StatusPartialContent, rng.Start, rng.Length()
		h.Set("Content-Range", rng.ContentRange(size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := io.CopyN(w, file, length); err != nil && s.logger != nil {
		s.logger.Debug("video stream interrupted", "error", err)
	}
	return nil
}
