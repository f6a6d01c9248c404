// Package store implements best-effort JSON persistence for paneld.
// One document per entity class, whole-file overwrites, no journaling.
// Write failures are logged and swallowed: the in-memory state owned by
// the registries stays authoritative for the life of the process.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paneld/paneld/internal/domain"
)

// Document names, one per entity class.
const (
	DocSessions       = "sessions.json"
	DocTerminals      = "terminals.json"
	DocShortcuts      = "shortcuts.json"
	DocAutoModeCfgs   = "automode.json"
	DocAutoModeState  = "automode_state.json"
	DocReviewServers  = "review_servers.json"
	DocLegacySessions = "claude_sessions.json"
)

// Snapshot produces the serializable value for a document at flush time.
// It is called on the writer goroutine, so implementations must take
// their own locks.
type Snapshot func() interface{}

// Store persists JSON documents under a state directory with a debounced
// background writer. Callers never block on disk I/O.
type Store struct {
	dir      string
	debounce time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]Snapshot
	closed  bool
}

// New creates a Store rooted at dir. The directory is created lazily on
// first write.
func New(dir string, debounce time.Duration) *Store {
	return &Store{
		dir:      dir,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]Snapshot),
	}
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Read loads a document into v. Missing or corrupt documents degrade to
// "empty": v is left untouched and nil is returned. Reads are never fatal.
func (s *Store) Read(doc string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, doc))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("doc", doc).Msg("failed to read state document, treating as empty")
		}
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("doc", doc).Msg("corrupt state document, treating as empty")
		return nil
	}
	return nil
}

// Exists reports whether a document is present on disk.
func (s *Store) Exists(doc string) bool {
	_, err := os.Stat(filepath.Join(s.dir, doc))
	return err == nil
}

// Write overwrites a document immediately. Failures are logged and
// swallowed; the returned error exists only for tests and callers that
// want to inspect it.
func (s *Store) Write(doc string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		serr := &domain.StoreError{Doc: doc, Err: err}
		log.Warn().Err(err).Str("doc", doc).Msg("failed to marshal state document")
		return serr
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		serr := &domain.StoreError{Doc: doc, Err: err}
		log.Warn().Err(err).Str("doc", doc).Msg("failed to create state directory")
		return serr
	}

	if err := os.WriteFile(filepath.Join(s.dir, doc), data, 0644); err != nil {
		serr := &domain.StoreError{Doc: doc, Err: err}
		log.Warn().Err(err).Str("doc", doc).Msg("failed to write state document")
		return serr
	}
	return nil
}

// Schedule queues a debounced write for a document. Bursts of schedules
// for the same document coalesce into a single write of the latest
// snapshot; a new schedule replaces any pending timer for that document.
func (s *Store) Schedule(doc string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.pending[doc] = snap
	if t, ok := s.timers[doc]; ok {
		t.Stop()
	}
	s.timers[doc] = time.AfterFunc(s.debounce, func() {
		s.flushDoc(doc)
	})
}

// flushDoc writes the pending snapshot for one document, if any.
func (s *Store) flushDoc(doc string) {
	s.mu.Lock()
	snap, ok := s.pending[doc]
	delete(s.pending, doc)
	delete(s.timers, doc)
	s.mu.Unlock()

	if !ok {
		return
	}
	_ = s.Write(doc, snap())
}

// Flush writes all pending snapshots immediately and cancels their timers.
func (s *Store) Flush() {
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	docs := make([]string, 0, len(s.pending))
	for doc := range s.pending {
		docs = append(docs, doc)
	}
	s.mu.Unlock()

	for _, doc := range docs {
		s.flushDoc(doc)
	}
}

// Close flushes pending writes and stops accepting new schedules.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Flush()
}
