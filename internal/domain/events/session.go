package events

// StreamType identifies which stream an output chunk came from.
type StreamType string

const (
	StreamStdout StreamType = "stdout"
	StreamStderr StreamType = "stderr"
	StreamSystem StreamType = "system"
)

// SessionKind distinguishes AI assistant sessions from plain shell terminals.
type SessionKind string

const (
	KindAssistant SessionKind = "assistant"
	KindTerminal  SessionKind = "terminal"
)

// SessionCreatedPayload represents the payload for session_created and
// terminal_created events.
type SessionCreatedPayload struct {
	SessionID      string      `json:"session_id"`
	RepositoryPath string      `json:"repository_path"`
	RepositoryName string      `json:"repository_name"`
	Kind           SessionKind `json:"kind"`
	Provider       string      `json:"provider,omitempty"`
	PID            int         `json:"pid"`
	Restored       bool        `json:"restored"` // true for ghost entries restored from disk
}

// NewSessionCreatedEvent creates a session_created event for an AI session.
func NewSessionCreatedEvent(p SessionCreatedPayload) *BaseEvent {
	return NewEventWithContext(EventTypeSessionCreated, p, p.RepositoryPath, p.SessionID)
}

// NewTerminalCreatedEvent creates a terminal_created event.
func NewTerminalCreatedEvent(p SessionCreatedPayload) *BaseEvent {
	return NewEventWithContext(EventTypeTerminalCreated, p, p.RepositoryPath, p.SessionID)
}

// SessionOutputPayload represents the payload for session_output and
// terminal_output events. Content carries one filtered output chunk.
type SessionOutputPayload struct {
	SessionID string     `json:"session_id"`
	LineID    string     `json:"line_id"`
	Content   string     `json:"content"`
	Stream    StreamType `json:"stream"`
	Provider  string     `json:"provider,omitempty"`
}

// NewSessionOutputEvent creates a session_output event.
func NewSessionOutputEvent(repositoryPath string, p SessionOutputPayload) *BaseEvent {
	return NewEventWithContext(EventTypeSessionOutput, p, repositoryPath, p.SessionID)
}

// NewTerminalOutputEvent creates a terminal_output event.
func NewTerminalOutputEvent(repositoryPath string, p SessionOutputPayload) *BaseEvent {
	return NewEventWithContext(EventTypeTerminalOutput, p, repositoryPath, p.SessionID)
}

// SessionExitPayload represents the payload for session_exit and
// terminal_exit events.
type SessionExitPayload struct {
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
	Signal    string `json:"signal,omitempty"`
}

// NewSessionExitEvent creates a session_exit event.
func NewSessionExitEvent(repositoryPath string, p SessionExitPayload) *BaseEvent {
	return NewEventWithContext(EventTypeSessionExit, p, repositoryPath, p.SessionID)
}

// NewTerminalExitEvent creates a terminal_exit event.
func NewTerminalExitEvent(repositoryPath string, p SessionExitPayload) *BaseEvent {
	return NewEventWithContext(EventTypeTerminalExit, p, repositoryPath, p.SessionID)
}

// NewTerminalClosedEvent creates a terminal_closed event.
func NewTerminalClosedEvent(repositoryPath, sessionID string) *BaseEvent {
	return NewEventWithContext(EventTypeTerminalClosed, SessionExitPayload{SessionID: sessionID}, repositoryPath, sessionID)
}
