package media

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrTooLarge is returned when an upload exceeds the configured size cap.
	ErrTooLarge = errors.New("media: upload exceeds size limit")
	// ErrUnsupportedType is returned for content types outside the allow-list.
	ErrUnsupportedType = errors.New("media: unsupported content type")
)

// allowedTypes maps accepted video content types to the extension used on disk.
var allowedTypes = map[string]string{
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/x-msvideo":  ".avi",
	"video/mpeg":       ".mpeg",
	"video/x-matroska": ".mkv",
}

// CheckContentType validates a Content-Type header value and returns the
// file extension to store the upload under.
func CheckContentType(contentType string) (string, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	ext, ok := allowedTypes[strings.ToLower(mt)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mt)
	}
	return ext, nil
}

// TypeByExtension returns the allowed video content type for the extension of
// name, or "" when the extension is not one we store.
func TypeByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".mpg" {
		ext = ".mpeg"
	}
	for mt, e := range allowedTypes {
		if e == ext {
			return mt
		}
	}
	return ""
}

// Storage keeps uploaded videos under a single directory.
type Storage struct {
	dir string
}

// NewStorage creates the directory if needed.
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create media dir: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// Dir returns the storage root.
func (s *Storage) Dir() string {
	return s.dir
}

// Save streams r to <dir>/<id><ext>, refusing more than maxBytes. A partial file
// is removed on any failure.
func (s *Storage) Save(id, ext string, r io.Reader, maxBytes int64) (string, int64, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return "", 0, fmt.Errorf("invalid media id %q", id)
	}
	path := filepath.Join(s.dir, id+ext)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create media file: %w", err)
	}

	// Read one byte past the cap so an exact-size upload is still accepted.
	n, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		os.Remove(path)
		return "", 0, fmt.Errorf("write media file: %w", err)
	case closeErr != nil:
		os.Remove(path)
		return "", 0, fmt.Errorf("close media file: %w", closeErr)
	case n > maxBytes:
		os.Remove(path)
		return "", 0, ErrTooLarge
	}
	return path, n, nil
}

// Remove deletes a stored video. Missing files are not an error.
func (s *Storage) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove media file: %w", err)
	}
	return nil
}
