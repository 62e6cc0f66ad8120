package session

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is reported by a launch step that lost the race against Stop.
	ErrStopped        = errors.New("session stopped")
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStreaming   = errors.New("session not streaming")
)

// BootstrapError means the remote endpoint could not be prepared.
type BootstrapError struct {
	Device string
	Err    error
}

func (e *BootstrapError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("bootstrap: %v", e.Err)
	}
	return fmt.Sprintf("bootstrap %s: %v", e.Device, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }
