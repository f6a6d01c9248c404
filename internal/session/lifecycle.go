package session

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/paneld/paneld/internal/domain"
	"github.com/paneld/paneld/internal/domain/events"
	"github.com/paneld/paneld/internal/proc"
	"github.com/paneld/paneld/internal/store"
)

const (
	defaultKillGrace    = 2 * time.Second
	defaultCloseTimeout = 3 * time.Second
)

func (r *Registry) killGrace() time.Duration {
	if d := r.cfg.KillGrace(); d > 0 {
		return d
	}
	return defaultKillGrace
}

func (r *Registry) closeTimeout() time.Duration {
	if d := r.cfg.CloseTimeout(); d > 0 {
		return d
	}
	return defaultCloseTimeout
}

// spawnAssistant starts a new AI session process on a PTY and registers
// it. The lock is held across the spawn so concurrent EnsureSession
// calls cannot create two active sessions for the same key.
func (r *Registry) spawnAssistant(repoPath, provider string, cols, rows uint16) (Info, error) {
	command := provider
	var args []string
	if p, ok := r.cfg.Providers[provider]; ok && p.Command != "" {
		command = p.Command
		args = p.Args
	}

	r.mu.Lock()
	key := assistantKey(repoPath, provider)
	if existing, ok := r.assistants[key]; ok && existing.IsActive {
		existing.touch()
		info := existing.toInfo()
		r.mu.Unlock()
		return info, nil
	}

	s, err := r.startProcessLocked(command, args, repoPath, events.KindAssistant, provider, cols, rows)
	if err != nil {
		r.mu.Unlock()
		return Info{}, err
	}
	r.assistants[key] = s
	r.index[s.ID] = s
	info := s.toInfo()
	r.mu.Unlock()

	log.Info().
		Str("session_id", s.ID).
		Str("repo", repoPath).
		Str("provider", provider).
		Int("pid", s.PID).
		Msg("assistant session started")

	r.schedulePersist()
	r.hub.Publish(events.NewSessionCreatedEvent(events.SessionCreatedPayload{
		SessionID:      s.ID,
		RepositoryPath: s.RepositoryPath,
		RepositoryName: s.RepositoryName,
		Kind:           events.KindAssistant,
		Provider:       provider,
		PID:            s.PID,
	}))
	return info, nil
}

// CreateTerminal starts a new shell terminal in the repository. Many
// terminals may exist per repository; each is keyed by its own id.
func (r *Registry) CreateTerminal(repoPath string, cols, rows uint16) (Info, error) {
	shell := r.cfg.Shell
	if shell == "" {
		shell = "/bin/bash"
	}

	r.mu.Lock()
	s, err := r.startProcessLocked(shell, nil, repoPath, events.KindTerminal, "", cols, rows)
	if err != nil {
		r.mu.Unlock()
		return Info{}, err
	}
	r.terminals[s.ID] = s
	r.index[s.ID] = s
	info := s.toInfo()
	r.mu.Unlock()

	log.Info().
		Str("terminal_id", s.ID).
		Str("repo", repoPath).
		Int("pid", s.PID).
		Msg("terminal started")

	r.schedulePersist()
	r.hub.Publish(events.NewTerminalCreatedEvent(events.SessionCreatedPayload{
		SessionID:      s.ID,
		RepositoryPath: s.RepositoryPath,
		RepositoryName: s.RepositoryName,
		Kind:           events.KindTerminal,
		PID:            s.PID,
	}))
	return info, nil
}

// EnsureTerminal returns the active terminal for an id, or creates a new
// one in the repository when the id is unknown or inactive.
func (r *Registry) EnsureTerminal(terminalID, repoPath string, cols, rows uint16) (Info, error) {
	r.mu.Lock()
	if s, ok := r.terminals[terminalID]; ok && s.IsActive {
		s.touch()
		if a, attached := s.attachment.(*Attached); attached && cols > 0 && rows > 0 {
			_ = pty.Setsize(a.PTY, &pty.Winsize{Cols: cols, Rows: rows})
		}
		info := s.toInfo()
		r.mu.Unlock()
		return info, nil
	}
	r.mu.Unlock()
	return r.CreateTerminal(repoPath, cols, rows)
}

// startProcessLocked spawns a process on a fresh PTY and builds its
// session entry. Caller holds the registry lock.
func (r *Registry) startProcessLocked(command string, args []string, repoPath string, kind events.SessionKind, provider string, cols, rows uint16) (*Session, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = repoPath
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	var ptmx *os.File
	var err error
	if cols > 0 && rows > 0 {
		ptmx, err = pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	} else {
		ptmx, err = pty.Start(cmd)
	}
	if err != nil {
		perr := domain.NewProcessError("spawn", err, 0)
		log.Error().Err(err).Str("command", command).Str("repo", repoPath).Msg("failed to spawn process")
		return nil, perr
	}

	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		RepositoryPath: repoPath,
		RepositoryName: repoName(repoPath),
		Kind:           kind,
		Provider:       provider,
		PID:            cmd.Process.Pid,
		IsActive:       true,
		CreatedAt:      now,
		LastAccessedAt: now,
		history:        NewHistory(r.historyLimit()),
		attachment:     &Attached{PTY: ptmx, Cmd: cmd},
		filter:         filterForProvider(provider),
		exited:         make(chan struct{}),
	}

	go r.readLoop(s, ptmx)
	go r.waitLoop(s, cmd)
	return s, nil
}

// readLoop streams PTY output into the session until the handle closes.
func (r *Registry) readLoop(s *Session, ptmx *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.onOutput(s, chunk)
		}
		if err != nil {
			return
		}
	}
}

// onOutput is the output callback: filter, append to bounded history,
// refresh access time, persist best-effort, emit.
func (r *Registry) onOutput(s *Session, chunk []byte) {
	r.mu.Lock()
	var ptyWriter *os.File
	if a, ok := s.attachment.(*Attached); ok {
		ptyWriter = a.PTY
	}
	filtered := s.filter.Filter(chunk, ptyWriter)
	if len(filtered) == 0 {
		// Chunk was entirely status-query bytes.
		r.mu.Unlock()
		return
	}
	line := s.history.Append(string(filtered), events.StreamStdout)
	s.touch()
	repoPath := s.RepositoryPath
	kind := s.Kind
	provider := s.Provider
	r.mu.Unlock()

	r.schedulePersist()

	payload := events.SessionOutputPayload{
		SessionID: s.ID,
		LineID:    line.ID,
		Content:   line.Content,
		Stream:    line.Stream,
		Provider:  provider,
	}
	if kind == events.KindTerminal {
		r.hub.Publish(events.NewTerminalOutputEvent(repoPath, payload))
	} else {
		r.hub.Publish(events.NewSessionOutputEvent(repoPath, payload))
	}
}

// waitLoop reaps the child and drives the exit callback.
func (r *Registry) waitLoop(s *Session, cmd *exec.Cmd) {
	err := cmd.Wait()

	exitCode := 0
	signal := ""
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				signal = ws.Signal().String()
			}
		} else {
			exitCode = -1
		}
	}

	r.onExit(s, exitCode, signal)
}

// onExit is the exit callback: mark inactive, remove from the active
// map, emit the exit event, persist the reduced map. Runs at most once
// per session; the close path may have beaten it here.
func (r *Registry) onExit(s *Session, exitCode int, signal string) {
	r.mu.Lock()
	select {
	case <-s.exited:
		// Close path already settled this session.
		r.mu.Unlock()
		return
	default:
	}
	s.IsActive = false
	close(s.exited)
	r.removeLocked(s)
	repoPath := s.RepositoryPath
	kind := s.Kind
	r.mu.Unlock()

	log.Info().
		Str("session_id", s.ID).
		Int("exit_code", exitCode).
		Str("signal", signal).
		Msg("session process exited")

	payload := events.SessionExitPayload{SessionID: s.ID, ExitCode: exitCode, Signal: signal}
	if kind == events.KindTerminal {
		r.hub.Publish(events.NewTerminalExitEvent(repoPath, payload))
	} else {
		r.hub.Publish(events.NewSessionExitEvent(repoPath, payload))
	}

	r.schedulePersist()
}

// Close closes a session or terminal by id: graceful termination with a
// kill escalation, bounded overall by the close ceiling so batch
// shutdown cannot hang on one unresponsive process.
func (r *Registry) Close(sessionID string) bool {
	r.mu.Lock()
	s, ok := r.index[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.closeSession(s)
}

// CloseByKey closes the AI session for (repoPath, provider).
func (r *Registry) CloseByKey(repoPath, provider string) bool {
	r.mu.Lock()
	s, ok := r.assistants[assistantKey(repoPath, provider)]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.closeSession(s)
}

func (r *Registry) closeSession(s *Session) bool {
	r.mu.Lock()
	a, attached := s.attachment.(*Attached)
	pid := s.PID
	exited := s.exited
	active := s.IsActive

	if !active || !attached {
		// Ghosts and already-exited entries are simply dropped.
		s.IsActive = false
		select {
		case <-exited:
		default:
			close(exited)
		}
		r.removeLocked(s)
		kind := s.Kind
		repoPath := s.RepositoryPath
		r.mu.Unlock()
		if kind == events.KindTerminal {
			r.hub.Publish(events.NewTerminalClosedEvent(repoPath, s.ID))
		}
		r.schedulePersist()
		return true
	}
	r.mu.Unlock()

	if err := proc.Terminate(pid); err != nil {
		log.Warn().Err(err).Int("pid", pid).Msg("graceful termination failed")
	}

	// Escalate to SIGKILL if the process does not self-report exit in
	// time; cancelled when the exit callback fires first.
	grace := time.AfterFunc(r.killGrace(), func() {
		log.Warn().Int("pid", pid).Msg("grace period expired, force killing")
		_ = proc.Kill(pid)
	})
	defer grace.Stop()

	// Race the exit event against the overall ceiling. The ceiling
	// timer is always stopped afterward so batch closes do not leak
	// timers.
	ceiling := time.NewTimer(r.closeTimeout())
	defer ceiling.Stop()

	settled := true
	select {
	case <-exited:
	case <-ceiling.C:
		settled = false
	}

	if !settled {
		log.Warn().Int("pid", pid).Str("session_id", s.ID).Msg("close ceiling expired, forcing removal")
		_ = proc.Kill(pid)
		r.onExit(s, -1, "SIGKILL")
	}

	_ = a.PTY.Close()

	if s.Kind == events.KindTerminal {
		r.hub.Publish(events.NewTerminalClosedEvent(s.RepositoryPath, s.ID))
	}

	r.schedulePersist()
	return true
}

// CleanupRepository closes every session and terminal of a repository.
// Per-session closes run concurrently; persistence is rewritten once
// after the whole set settles.
func (r *Registry) CleanupRepository(repoPath string) int {
	r.mu.Lock()
	var targets []*Session
	for _, s := range r.assistants {
		if s.RepositoryPath == repoPath {
			targets = append(targets, s)
		}
	}
	for _, s := range r.terminals {
		if s.RepositoryPath == repoPath {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	r.closeAll(targets)
	return len(targets)
}

// Shutdown closes every session and terminal in the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.assistants)+len(r.terminals))
	for _, s := range r.assistants {
		targets = append(targets, s)
	}
	for _, s := range r.terminals {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	r.closeAll(targets)
}

func (r *Registry) closeAll(targets []*Session) {
	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			r.closeSession(s)
		}(s)
	}
	wg.Wait()

	r.persistNow()
}

// persistNow rewrites both session documents immediately, bypassing the
// debounce. Used after batch operations.
func (r *Registry) persistNow() {
	r.mu.Lock()
	assistants := make([]Record, 0, len(r.assistants))
	for _, s := range r.assistants {
		assistants = append(assistants, s.toRecord())
	}
	terminals := make([]Record, 0, len(r.terminals))
	for _, s := range r.terminals {
		terminals = append(terminals, s.toRecord())
	}
	r.mu.Unlock()

	_ = r.store.Write(store.DocSessions, assistants)
	_ = r.store.Write(store.DocTerminals, terminals)
}
