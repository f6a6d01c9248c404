package events

// AutoModeWaitingPayload represents the payload for automode_waiting events,
// emitted when a hook event arrives inside the minimum inter-execution
// interval and a deferred timer has been scheduled.
type AutoModeWaitingPayload struct {
	RepositoryPath   string `json:"repository_path"`
	ConfigID         string `json:"config_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// NewAutoModeWaitingEvent creates an automode_waiting event.
func NewAutoModeWaitingEvent(p AutoModeWaitingPayload) *BaseEvent {
	return NewEventWithContext(EventTypeAutoModeWaiting, p, p.RepositoryPath, "")
}

// AutoModePromptSentPayload represents the payload for automode_prompt_sent events.
type AutoModePromptSentPayload struct {
	RepositoryPath string `json:"repository_path"`
	ConfigID       string `json:"config_id"`
	SessionID      string `json:"session_id"`
	Prompt         string `json:"prompt"`
	ClearedFirst   bool   `json:"cleared_first"`
}

// NewAutoModePromptSentEvent creates an automode_prompt_sent event.
func NewAutoModePromptSentEvent(p AutoModePromptSentPayload) *BaseEvent {
	return NewEventWithContext(EventTypeAutoModePromptSent, p, p.RepositoryPath, p.SessionID)
}

// AutoModeStatusPayload represents the payload for automode_status_changed events.
type AutoModeStatusPayload struct {
	RepositoryPath string `json:"repository_path"`
	IsRunning      bool   `json:"is_running"`
	ConfigID       string `json:"config_id,omitempty"`
}

// NewAutoModeStatusEvent creates an automode_status_changed event.
func NewAutoModeStatusEvent(p AutoModeStatusPayload) *BaseEvent {
	return NewEventWithContext(EventTypeAutoModeStatusChanged, p, p.RepositoryPath, "")
}
