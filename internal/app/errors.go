package app

import (
	"errors"
	"fmt"
)

// Host errors.
var (
	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("host already running")

	// ErrClosed indicates the host was already closed.
	ErrClosed = errors.New("host closed")
)

// InitError represents a startup failure of one component.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ComponentError represents a failure of a running component.
type ComponentError struct {
	Component string // Component name (e.g., "store", "server", "services")
	Action    string // Action being performed
	Err       error  // Underlying error
}

func (e *ComponentError) Error() string {
	if e == nil {
		return ""
	}
	if e.Action != "" {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Action, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ComponentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
