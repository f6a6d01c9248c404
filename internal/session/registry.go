package session

import (
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog/log"

	"github.com/paneld/paneld/internal/config"
	"github.com/paneld/paneld/internal/domain/events"
	"github.com/paneld/paneld/internal/domain/ports"
	"github.com/paneld/paneld/internal/proc"
	"github.com/paneld/paneld/internal/store"
)

// maxRecordAge bounds how old a persisted record may be and still be
// restored as a ghost entry.
const maxRecordAge = 24 * time.Hour

// Registry owns all active AI assistant sessions and shell terminals.
// All mutations are serialized on its lock; callers never receive a
// mutable reference into the maps.
type Registry struct {
	cfg   config.SessionsConfig
	hub   ports.EventHub
	store *store.Store

	mu         sync.Mutex
	assistants map[string]*Session // keyed by repoPath|provider
	terminals  map[string]*Session // keyed by terminal id
	index      map[string]*Session // id -> session, O(1) lookup
}

// NewRegistry creates a session registry.
func NewRegistry(cfg config.SessionsConfig, hub ports.EventHub, st *store.Store) *Registry {
	return &Registry{
		cfg:        cfg,
		hub:        hub,
		store:      st,
		assistants: make(map[string]*Session),
		terminals:  make(map[string]*Session),
		index:      make(map[string]*Session),
	}
}

// assistantKey is the stable join key for AI sessions.
func assistantKey(repoPath, provider string) string {
	return repoPath + "|" + provider
}

func repoName(repoPath string) string {
	return filepath.Base(repoPath)
}

// historyLimit returns the configured history cap.
func (r *Registry) historyLimit() int {
	if r.cfg.HistoryLimit > 0 {
		return r.cfg.HistoryLimit
	}
	return DefaultHistoryLimit
}

// Restore rebuilds ghost entries from persisted records at startup.
// Only records whose remembered pid is still alive and whose last
// access is within the retention window come back; everything else is
// dropped from the next persisted snapshot. Restored entries keep
// IsActive=true even though no handle exists.
func (r *Registry) Restore() {
	r.store.MigrateLegacySessions()

	var records []Record
	_ = r.store.Read(store.DocSessions, &records)
	if len(records) == 0 {
		// Old-format document is still consulted after migration wrote
		// the new one, and when migration had nothing to do.
		_ = r.store.Read(store.DocLegacySessions, &records)
		for i := range records {
			if records[i].Provider == "" {
				records[i].Provider = config.ProviderClaude
			}
		}
	}

	var terms []Record
	_ = r.store.Read(store.DocTerminals, &terms)

	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, rec := range records {
		if !rec.IsActive || !r.recordUsable(rec) {
			continue
		}
		s := r.ghostFromRecord(rec, events.KindAssistant)
		r.assistants[assistantKey(s.RepositoryPath, s.Provider)] = s
		r.index[s.ID] = s
		restored++
	}
	for _, rec := range terms {
		if !rec.IsActive || !r.recordUsable(rec) {
			continue
		}
		s := r.ghostFromRecord(rec, events.KindTerminal)
		r.terminals[s.ID] = s
		r.index[s.ID] = s
		restored++
	}

	if restored > 0 {
		log.Info().Int("sessions", restored).Msg("restored ghost sessions from disk")
	}
}

// recordUsable reports whether a persisted record is non-expired and its
// pid still refers to a live process.
func (r *Registry) recordUsable(rec Record) bool {
	if time.Since(rec.LastAccessedAt) > maxRecordAge {
		return false
	}
	return proc.Alive(rec.PID)
}

// ghostFromRecord builds a Detached entry from a persisted record.
func (r *Registry) ghostFromRecord(rec Record, kind events.SessionKind) *Session {
	h := NewHistory(r.historyLimit())
	h.Restore(rec.OutputHistory)
	return &Session{
		ID:             rec.ID,
		RepositoryPath: rec.RepositoryPath,
		RepositoryName: rec.RepositoryName,
		Kind:           kind,
		Provider:       rec.Provider,
		PID:            rec.PID,
		IsActive:       rec.IsActive,
		CreatedAt:      rec.CreatedAt,
		LastAccessedAt: rec.LastAccessedAt,
		history:        h,
		attachment:     &Detached{},
		exited:         make(chan struct{}),
	}
}

// EnsureSession returns the active AI session for (repoPath, provider),
// creating one if needed. The registry never holds two active sessions
// for the same key: an existing entry (attached or ghost) is returned
// with its access time refreshed; otherwise a matching persisted record
// with a live pid is revived as a ghost; otherwise a new process is
// spawned. cols/rows of 0 leave the size untouched.
func (r *Registry) EnsureSession(repoPath, provider string, cols, rows uint16) (Info, error) {
	key := assistantKey(repoPath, provider)

	r.mu.Lock()
	if s, ok := r.assistants[key]; ok && s.IsActive {
		s.touch()
		if a, attached := s.attachment.(*Attached); attached && cols > 0 && rows > 0 {
			_ = pty.Setsize(a.PTY, &pty.Winsize{Cols: cols, Rows: rows})
		}
		info := s.toInfo()
		r.mu.Unlock()
		return info, nil
	}

	// Consult persistence for a revivable record before spawning.
	if rec, ok := r.findPersisted(repoPath, provider); ok {
		s := r.ghostFromRecord(rec, events.KindAssistant)
		s.touch()
		r.assistants[key] = s
		r.index[s.ID] = s
		info := s.toInfo()
		r.mu.Unlock()
		r.schedulePersist()
		r.hub.Publish(events.NewSessionCreatedEvent(events.SessionCreatedPayload{
			SessionID:      s.ID,
			RepositoryPath: s.RepositoryPath,
			RepositoryName: s.RepositoryName,
			Kind:           events.KindAssistant,
			Provider:       s.Provider,
			PID:            s.PID,
			Restored:       true,
		}))
		return info, nil
	}
	r.mu.Unlock()

	s, err := r.spawnAssistant(repoPath, provider, cols, rows)
	if err != nil {
		return Info{}, err
	}
	return s, nil
}

// findPersisted looks up a non-expired persisted record for the key that
// is not already represented in the registry. Caller holds the lock.
func (r *Registry) findPersisted(repoPath, provider string) (Record, bool) {
	var records []Record
	_ = r.store.Read(store.DocSessions, &records)
	for _, rec := range records {
		if rec.RepositoryPath != repoPath || rec.Provider != provider {
			continue
		}
		if _, taken := r.index[rec.ID]; taken {
			continue
		}
		if rec.IsActive && r.recordUsable(rec) {
			return rec, true
		}
	}
	return Record{}, false
}

// Send writes raw bytes to a session's PTY. Writing to a ghost never
// fails silently: the bytes are queued, exactly one replacement spawn
// is kicked off asynchronously, and true is returned optimistically;
// the caller is not blocked on the respawn.
func (r *Registry) Send(sessionID string, data []byte) bool {
	r.mu.Lock()
	s, ok := r.index[sessionID]
	if !ok || !s.IsActive {
		r.mu.Unlock()
		return false
	}

	switch a := s.attachment.(type) {
	case *Attached:
		s.touch()
		r.mu.Unlock()
		if _, err := a.PTY.Write(data); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("pty write failed")
			return false
		}
		r.schedulePersist()
		return true

	case *Detached:
		buf := make([]byte, len(data))
		copy(buf, data)
		s.pendingWrites = append(s.pendingWrites, buf)
		kick := !s.respawning
		s.respawning = true
		r.mu.Unlock()
		if kick {
			go r.respawnGhost(s)
		}
		return true
	}

	r.mu.Unlock()
	return false
}

// respawnGhost replaces a ghost with a freshly spawned session in the
// same repository/provider, transplants the queued writes, and removes
// the ghost. Runs off the caller's goroutine (fire-and-forget).
func (r *Registry) respawnGhost(ghost *Session) {
	r.mu.Lock()
	pending := ghost.pendingWrites
	ghost.pendingWrites = nil
	// Delete the ghost so the spawn can claim the key.
	r.removeLocked(ghost)
	repoPath, provider, kind := ghost.RepositoryPath, ghost.Provider, ghost.Kind
	r.mu.Unlock()

	var info Info
	var err error
	if kind == events.KindTerminal {
		info, err = r.CreateTerminal(repoPath, 0, 0)
	} else {
		info, err = r.spawnAssistant(repoPath, provider, 0, 0)
	}
	if err != nil {
		log.Error().Err(err).
			Str("repo", repoPath).
			Str("provider", provider).
			Msg("ghost respawn failed, queued input dropped")
		return
	}

	log.Info().
		Str("ghost_id", ghost.ID).
		Str("session_id", info.ID).
		Msg("respawned session for detached ghost")

	for _, data := range pending {
		r.Send(info.ID, data)
	}
}

// Resize sets the PTY size for the active session of (repoPath, provider).
// Returns false for unknown, inactive, or detached sessions.
func (r *Registry) Resize(repoPath, provider string, cols, rows uint16) bool {
	r.mu.Lock()
	s, ok := r.assistants[assistantKey(repoPath, provider)]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.resizeSession(s, cols, rows)
}

// ResizeByID sets the PTY size for a session or terminal by id.
func (r *Registry) ResizeByID(sessionID string, cols, rows uint16) bool {
	r.mu.Lock()
	s, ok := r.index[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.resizeSession(s, cols, rows)
}

func (r *Registry) resizeSession(s *Session, cols, rows uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !s.IsActive {
		return false
	}
	a, attached := s.attachment.(*Attached)
	if !attached {
		return false
	}
	if err := pty.Setsize(a.PTY, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("pty resize failed")
		return false
	}
	return true
}

// Signal delivers a named signal (SIGINT, SIGTERM, SIGKILL, SIGHUP) to
// the session's process. Returns false on unknown session or signal.
func (r *Registry) Signal(sessionID, sig string) bool {
	signum, ok := signalByName(sig)
	if !ok {
		return false
	}

	r.mu.Lock()
	s, found := r.index[sessionID]
	if !found || !s.IsActive || s.PID <= 0 {
		r.mu.Unlock()
		return false
	}
	pid := s.PID
	r.mu.Unlock()

	if err := proc.Signal(pid, signum); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Str("signal", sig).Msg("signal delivery failed")
		return false
	}
	return true
}

func signalByName(sig string) (syscall.Signal, bool) {
	switch sig {
	case "SIGINT":
		return syscall.SIGINT, true
	case "SIGTERM":
		return syscall.SIGTERM, true
	case "SIGKILL":
		return syscall.SIGKILL, true
	case "SIGHUP":
		return syscall.SIGHUP, true
	default:
		return 0, false
	}
}

// History returns the output buffer for (repoPath, provider): the live
// in-memory buffer when the session is active, otherwise the last
// persisted buffer, otherwise empty. Always capped to the history limit.
func (r *Registry) History(repoPath, provider string) []OutputLine {
	r.mu.Lock()
	if s, ok := r.assistants[assistantKey(repoPath, provider)]; ok && s.IsActive {
		lines := s.history.Lines()
		r.mu.Unlock()
		return lines
	}
	r.mu.Unlock()

	var records []Record
	_ = r.store.Read(store.DocSessions, &records)
	for _, rec := range records {
		if rec.RepositoryPath == repoPath && rec.Provider == provider {
			lines := rec.OutputHistory
			if limit := r.historyLimit(); len(lines) > limit {
				lines = lines[len(lines)-limit:]
			}
			return lines
		}
	}
	return nil
}

// TerminalHistory returns the output buffer for a terminal id.
func (r *Registry) TerminalHistory(terminalID string) []OutputLine {
	r.mu.Lock()
	if s, ok := r.terminals[terminalID]; ok && s.IsActive {
		lines := s.history.Lines()
		r.mu.Unlock()
		return lines
	}
	r.mu.Unlock()

	var records []Record
	_ = r.store.Read(store.DocTerminals, &records)
	for _, rec := range records {
		if rec.ID == terminalID {
			lines := rec.OutputHistory
			if limit := r.historyLimit(); len(lines) > limit {
				lines = lines[len(lines)-limit:]
			}
			return lines
		}
	}
	return nil
}

// ClearHistory clears both the in-memory and persisted buffer for the key.
func (r *Registry) ClearHistory(repoPath, provider string) bool {
	r.mu.Lock()
	if s, ok := r.assistants[assistantKey(repoPath, provider)]; ok {
		s.history.Clear()
	}
	r.mu.Unlock()

	// Rewrite the persisted document with the cleared buffer.
	var records []Record
	_ = r.store.Read(store.DocSessions, &records)
	changed := false
	for i := range records {
		if records[i].RepositoryPath == repoPath && records[i].Provider == provider {
			records[i].OutputHistory = nil
			changed = true
		}
	}
	if changed {
		_ = r.store.Write(store.DocSessions, records)
	}
	r.schedulePersist()
	return true
}

// Get returns the session info for an id.
func (r *Registry) Get(sessionID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.index[sessionID]
	if !ok {
		return Info{}, false
	}
	return s.toInfo(), true
}

// ActiveSession returns the active AI session info for a key, if any.
func (r *Registry) ActiveSession(repoPath, provider string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.assistants[assistantKey(repoPath, provider)]
	if !ok || !s.IsActive {
		return Info{}, false
	}
	return s.toInfo(), true
}

// List returns all sessions and terminals, assistants first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.assistants)+len(r.terminals))
	for _, s := range r.assistants {
		out = append(out, s.toInfo())
	}
	for _, s := range r.terminals {
		out = append(out, s.toInfo())
	}
	return out
}

// SessionCount returns the total number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assistants) + len(r.terminals)
}

// removeLocked drops a session from all maps. Caller holds the lock.
func (r *Registry) removeLocked(s *Session) {
	delete(r.index, s.ID)
	if s.Kind == events.KindTerminal {
		if cur, ok := r.terminals[s.ID]; ok && cur == s {
			delete(r.terminals, s.ID)
		}
		return
	}
	key := assistantKey(s.RepositoryPath, s.Provider)
	if cur, ok := r.assistants[key]; ok && cur == s {
		delete(r.assistants, key)
	}
}

// schedulePersist queues debounced writes of both session documents.
func (r *Registry) schedulePersist() {
	r.store.Schedule(store.DocSessions, func() interface{} {
		r.mu.Lock()
		defer r.mu.Unlock()
		records := make([]Record, 0, len(r.assistants))
		for _, s := range r.assistants {
			records = append(records, s.toRecord())
		}
		return records
	})
	r.store.Schedule(store.DocTerminals, func() interface{} {
		r.mu.Lock()
		defer r.mu.Unlock()
		records := make([]Record, 0, len(r.terminals))
		for _, s := range r.terminals {
			records = append(records, s.toRecord())
		}
		return records
	})
}
