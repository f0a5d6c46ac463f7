// Package progress keeps the latest processing state of each incident so the
// status endpoints can report it while analysis runs.
package progress

import (
	"context"
	"errors"
)

// Status is the coarse lifecycle position of an incident.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusUploading  Status = "UPLOADING"
	StatusSaved      Status = "SAVED"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// ErrTerminalState is returned when a write would move a key out of DONE or ERROR.
var ErrTerminalState = errors.New("progress: state is terminal")

// State is the snapshot published for one key. Each Set replaces the previous
// value entirely.
type State struct {
	Status    Status `json:"status"`
	Stage     int    `json:"stage,omitempty"`
	StageName string `json:"stage_name,omitempty"`

	HasEvent       *bool  `json:"has_event,omitempty"`
	InferredDomain string `json:"inferred_domain,omitempty"`
	EventsFound    *int   `json:"events_found,omitempty"`

	Error string `json:"error,omitempty"`
}

// Equal compares two states field by field.
func (s State) Equal(o State) bool {
	return s.Status == o.Status &&
		s.Stage == o.Stage &&
		s.StageName == o.StageName &&
		s.InferredDomain == o.InferredDomain &&
		s.Error == o.Error &&
		eqPtr(s.HasEvent, o.HasEvent) &&
		eqPtr(s.EventsFound, o.EventsFound)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Pending is the state reported for keys that were never written.
func Pending() State {
	return State{Status: StatusPending}
}

// Processing announces the start of an analysis stage.
func Processing(stage int, name string) State {
	return State{Status: StatusProcessing, Stage: stage, StageName: name}
}

// Done is the terminal summary of a successful attempt.
func Done(hasEvent bool, inferredDomain string, eventsFound int) State {
	return State{
		Status:         StatusDone,
		HasEvent:       &hasEvent,
		InferredDomain: inferredDomain,
		EventsFound:    &eventsFound,
	}
}

// Failed is the terminal state of an attempt that could not finish.
func Failed(msg string) State {
	return State{Status: StatusError, Error: msg}
}

// Store is a per-key last-writer-wins state holder.
type Store interface {
	// Set replaces the state for key. It fails with ErrTerminalState when the
	// current state is DONE or ERROR.
	Set(ctx context.Context, key string, st State) error
	// Get returns the current state, or Pending() for unknown keys.
	Get(ctx context.Context, key string) (State, error)
	// Delete forgets key, the only way to leave a terminal state.
	Delete(ctx context.Context, key string) error
}
