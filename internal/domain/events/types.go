// Package events defines all event types emitted by the paneld manager.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// AI session events
	EventTypeSessionCreated EventType = "session_created"
	EventTypeSessionOutput  EventType = "session_output"
	EventTypeSessionExit    EventType = "session_exit"

	// Shell terminal events
	EventTypeTerminalCreated EventType = "terminal_created"
	EventTypeTerminalOutput  EventType = "terminal_output"
	EventTypeTerminalExit    EventType = "terminal_exit"
	EventTypeTerminalClosed  EventType = "terminal_closed"

	// Auto-mode events
	EventTypeAutoModeWaiting       EventType = "automode_waiting"
	EventTypeAutoModePromptSent    EventType = "automode_prompt_sent"
	EventTypeAutoModeStatusChanged EventType = "automode_status_changed"

	// Review server events
	EventTypeReviewServerStarted EventType = "review_server_started"
	EventTypeReviewServerStopped EventType = "review_server_stopped"

	// Connection events
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeError     EventType = "error"
)

// Event is the base interface for all events.
type Event interface {
	// Type returns the event type.
	Type() EventType

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// ToJSON serializes the event to JSON.
	ToJSON() ([]byte, error)

	// GetRepositoryPath returns the repository path the event belongs to (may be empty).
	GetRepositoryPath() string

	// GetSessionID returns the session ID (may be empty).
	GetSessionID() string
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType      EventType   `json:"event"`
	EventTime      time.Time   `json:"timestamp"`
	RepositoryPath string      `json:"repository_path,omitempty"`
	SessionID      string      `json:"session_id,omitempty"`
	Payload        interface{} `json:"payload"`
}

// SetContext sets the repository and session context for an event.
func (e *BaseEvent) SetContext(repositoryPath, sessionID string) {
	e.RepositoryPath = repositoryPath
	e.SessionID = sessionID
}

// GetRepositoryPath returns the repository path.
func (e *BaseEvent) GetRepositoryPath() string {
	return e.RepositoryPath
}

// GetSessionID returns the session ID.
func (e *BaseEvent) GetSessionID() string {
	return e.SessionID
}

// Type returns the event type.
func (e *BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// ToJSON serializes the event to JSON.
func (e *BaseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent creates a new base event with the given type and payload.
func NewEvent(eventType EventType, payload interface{}) *BaseEvent {
	return &BaseEvent{
		EventType: eventType,
		EventTime: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewEventWithContext creates a new event with repository and session context.
func NewEventWithContext(eventType EventType, payload interface{}, repositoryPath, sessionID string) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTime:      time.Now().UTC(),
		RepositoryPath: repositoryPath,
		SessionID:      sessionID,
		Payload:        payload,
	}
}

// ErrorPayload represents the payload for error events.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEvent creates a new error event.
func NewErrorEvent(code, message string) *BaseEvent {
	return NewEvent(EventTypeError, ErrorPayload{Code: code, Message: message})
}

// HeartbeatPayload represents the payload for heartbeat events.
type HeartbeatPayload struct {
	Sequence      int64 `json:"sequence"`
	SessionCount  int   `json:"session_count"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// NewHeartbeatEvent creates a new heartbeat event.
func NewHeartbeatEvent(seq int64, sessionCount int, uptimeSeconds int64) *BaseEvent {
	return NewEvent(EventTypeHeartbeat, HeartbeatPayload{
		Sequence:      seq,
		SessionCount:  sessionCount,
		UptimeSeconds: uptimeSeconds,
	})
}
