// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrTerminalNotFound   = errors.New("terminal not found")
	ErrSessionNotAttached = errors.New("session has no attached pty")
	ErrShortcutNotFound   = errors.New("shortcut not found")
	ErrConfigNotFound     = errors.New("auto-mode config not found")
	ErrConfigDisabled     = errors.New("auto-mode config is disabled")
	ErrConfigWrongRepo    = errors.New("auto-mode config belongs to another repository")
	ErrAutoModeNotRunning = errors.New("auto-mode is not running for this repository")
	ErrHubNotRunning      = errors.New("event hub is not running")
	ErrSubscriberClosed   = errors.New("subscriber is closed")
)

// ProcessError represents a failure at the OS-process boundary
// (spawn, write, signal, kill). It is always converted to a boolean
// failure result at the manager surface; it never crashes the daemon.
type ProcessError struct {
	Op       string // Operation that failed (spawn, write, signal, kill)
	Err      error  // Underlying error
	ExitCode int    // Exit code if the process exited
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("process %s: exit code %d: %v", e.Op, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("process %s: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// NewProcessError creates a new ProcessError.
func NewProcessError(op string, err error, exitCode int) *ProcessError {
	return &ProcessError{
		Op:       op,
		Err:      err,
		ExitCode: exitCode,
	}
}

// StoreError represents a persistence failure. Writers swallow it after
// logging; the in-memory state stays authoritative.
type StoreError struct {
	Doc string // Document name (sessions, shortcuts, ...)
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Doc, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation error on an inbound operation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
