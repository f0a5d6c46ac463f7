package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter marks a caller error such as a non-positive window length.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoFrames means not a single frame could be decoded for a window.
	ErrNoFrames = errors.New("no frames decoded for window")
)

// WindowError records the failure of one window in the frame fallback. It never
// aborts the other windows.
type WindowError struct {
	Index int
	Err   error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("window %d: %v", e.Index, e.Err)
}

func (e *WindowError) Unwrap() error { return e.Err }

// AttemptError ends an analysis attempt. Stage is the stage that was running.
type AttemptError struct {
	Stage Stage
	Err   error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", int(e.Stage), e.Stage, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }
