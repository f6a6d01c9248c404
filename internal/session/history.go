package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/paneld/paneld/internal/domain/events"
)

// OutputLine is one stored chunk of session output.
type OutputLine struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Stream    events.StreamType `json:"stream"`
}

// History is a bounded sliding window over session output. Appending
// beyond capacity drops the oldest entry first; order of the remainder
// is preserved.
type History struct {
	limit int
	lines []OutputLine
}

// NewHistory creates a history bounded to limit entries.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Append adds a line, evicting the oldest entry when full, and returns
// the stored line.
func (h *History) Append(content string, stream events.StreamType) OutputLine {
	line := OutputLine{
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: time.Now().UTC(),
		Stream:    stream,
	}
	h.lines = append(h.lines, line)
	if len(h.lines) > h.limit {
		h.lines = h.lines[len(h.lines)-h.limit:]
	}
	return line
}

// Lines returns a copy of the buffered lines, oldest first.
func (h *History) Lines() []OutputLine {
	out := make([]OutputLine, len(h.lines))
	copy(out, h.lines)
	return out
}

// Len returns the number of buffered lines.
func (h *History) Len() int {
	return len(h.lines)
}

// Clear drops all buffered lines.
func (h *History) Clear() {
	h.lines = nil
}

// Restore replaces the buffer with persisted lines, truncating to the
// last limit entries when the source holds more.
func (h *History) Restore(lines []OutputLine) {
	if len(lines) > h.limit {
		lines = lines[len(lines)-h.limit:]
	}
	h.lines = make([]OutputLine, len(lines))
	copy(h.lines, lines)
}
