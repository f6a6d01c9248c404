package events

// ReviewServerPayload represents the payload for review_server_started and
// review_server_stopped events.
type ReviewServerPayload struct {
	RepositoryPath string `json:"repository_path"`
	Port           int    `json:"port"`
	URL            string `json:"url,omitempty"`
	Status         string `json:"status"`
	DiffTarget     string `json:"diff_target,omitempty"`
}

// NewReviewServerStartedEvent creates a review_server_started event.
func NewReviewServerStartedEvent(p ReviewServerPayload) *BaseEvent {
	return NewEventWithContext(EventTypeReviewServerStarted, p, p.RepositoryPath, "")
}

// NewReviewServerStoppedEvent creates a review_server_stopped event.
func NewReviewServerStoppedEvent(p ReviewServerPayload) *BaseEvent {
	return NewEventWithContext(EventTypeReviewServerStopped, p, p.RepositoryPath, "")
}
