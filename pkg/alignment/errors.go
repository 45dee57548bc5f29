package alignment

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPoints is returned when a dataset holds no localizations.
	ErrNoPoints = errors.New("dataset has no localizations")

	// ErrNoGroups is returned when no group could be formed.
	ErrNoGroups = errors.New("dataset has no groups")

	// ErrEmptyWindow is returned when the alignment window renders to an
	// empty image.
	ErrEmptyWindow = errors.New("alignment window renders to an empty image")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrRunning is returned when a session is asked to start a second run
	// or to close while a run is in flight.
	ErrRunning = errors.New("alignment run already in progress")
)

// WorkerError reports a failed group alignment. Stack is set when the
// failure was a recovered panic.
type WorkerError struct {
	Group int
	Phase Phase
	Err   error
	Stack []byte
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s alignment of group %d: %v", e.Phase, e.Group, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}
