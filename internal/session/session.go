// Package session implements the paneld session registry: PTY-backed AI
// assistant sessions and shell terminals, bounded output history, and
// the process lifecycle around them.
package session

import (
	"os"
	"os/exec"
	"time"

	"github.com/paneld/paneld/internal/domain/events"
)

// DefaultHistoryLimit bounds the output history kept per session.
const DefaultHistoryLimit = 500

// Attachment is the tagged attachment state of a session. A session is
// either Attached (this registry owns the live PTY handle) or Detached
// (a ghost restored from disk whose handle was lost across a restart).
// Callers must type-switch before using handle-only operations.
type Attachment interface {
	attachment()
}

// Attached means the registry owns a live PTY and child process.
type Attached struct {
	PTY *os.File
	Cmd *exec.Cmd
}

func (*Attached) attachment() {}

// Detached marks a ghost entry: metadata restored from persistence, no
// live handle. Any write against it triggers a respawn.
type Detached struct{}

func (*Detached) attachment() {}

// Session is one PTY-backed process entry: an AI assistant session or a
// shell terminal, distinguished by Kind. Fields are mutated only while
// holding the owning registry's lock.
type Session struct {
	ID             string
	RepositoryPath string
	RepositoryName string
	Kind           events.SessionKind
	Provider       string // assistant sessions only
	PID            int
	IsActive       bool
	CreatedAt      time.Time
	LastAccessedAt time.Time

	history    *History
	attachment Attachment
	filter     OutputFilter

	// respawning guards the ghost-send path so concurrent sends trigger
	// exactly one replacement spawn; pendingWrites holds the bytes to
	// transplant once the replacement is ready.
	respawning    bool
	pendingWrites [][]byte

	// closing carries the exit notification to a waiting Close call.
	exited chan struct{}
}

// Attachment returns the session's attachment state.
func (s *Session) Attachment() Attachment {
	return s.attachment
}

// IsAttached reports whether this entry owns a live PTY handle.
func (s *Session) IsAttached() bool {
	_, ok := s.attachment.(*Attached)
	return ok
}

// touch bumps LastAccessedAt, keeping it monotonically non-decreasing.
func (s *Session) touch() {
	now := time.Now().UTC()
	if now.After(s.LastAccessedAt) {
		s.LastAccessedAt = now
	}
}

// Record is the serializable subset of a session persisted to disk.
// Live handles are never stored.
type Record struct {
	ID             string             `json:"id"`
	RepositoryPath string             `json:"repository_path"`
	RepositoryName string             `json:"repository_name"`
	Kind           events.SessionKind `json:"kind,omitempty"`
	Provider       string             `json:"provider,omitempty"`
	PID            int                `json:"pid"`
	IsActive       bool               `json:"is_active"`
	CreatedAt      time.Time          `json:"created_at"`
	LastAccessedAt time.Time          `json:"last_accessed_at"`
	OutputHistory  []OutputLine       `json:"output_history,omitempty"`
}

// toRecord snapshots the session for persistence.
func (s *Session) toRecord() Record {
	return Record{
		ID:             s.ID,
		RepositoryPath: s.RepositoryPath,
		RepositoryName: s.RepositoryName,
		Kind:           s.Kind,
		Provider:       s.Provider,
		PID:            s.PID,
		IsActive:       s.IsActive,
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
		OutputHistory:  s.history.Lines(),
	}
}

// Info is the serializable view of a session returned to transport
// callers. It never exposes the live handle.
type Info struct {
	ID             string             `json:"id"`
	RepositoryPath string             `json:"repository_path"`
	RepositoryName string             `json:"repository_name"`
	Kind           events.SessionKind `json:"kind"`
	Provider       string             `json:"provider,omitempty"`
	PID            int                `json:"pid"`
	IsActive       bool               `json:"is_active"`
	IsAttached     bool               `json:"is_attached"`
	CreatedAt      time.Time          `json:"created_at"`
	LastAccessedAt time.Time          `json:"last_accessed_at"`
}

// toInfo snapshots the session for transport consumers.
func (s *Session) toInfo() Info {
	return Info{
		ID:             s.ID,
		RepositoryPath: s.RepositoryPath,
		RepositoryName: s.RepositoryName,
		Kind:           s.Kind,
		Provider:       s.Provider,
		PID:            s.PID,
		IsActive:       s.IsActive,
		IsAttached:     s.IsAttached(),
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}
