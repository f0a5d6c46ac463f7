package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable wraps transport failures: connection refused,
	// DNS errors, timeouts waiting for a response.
	ErrBackendUnavailable = errors.New("inference backend unavailable")

	// ErrMalformedResponse is returned when a 2xx response body cannot be decoded.
	ErrMalformedResponse = errors.New("inference backend returned a malformed response")
)

// BackendError represents a non-2xx reply from the inference backend.
type BackendError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *BackendError) IsRetryable() bool {
	return e.StatusCode >= 500
}
