package automode

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paneld/paneld/internal/domain"
	"github.com/paneld/paneld/internal/domain/events"
	"github.com/paneld/paneld/internal/domain/ports"
	"github.com/paneld/paneld/internal/session"
	"github.com/paneld/paneld/internal/store"
)

// Dispatch delays of the prompt sequence.
const (
	clearToReturnDelay  = 500 * time.Millisecond
	clearSettleDelay    = 1500 * time.Millisecond
	promptToReturnDelay = 500 * time.Millisecond
)

// Sessions is the registry surface the scheduler needs: warm or find a
// session and write into it.
type Sessions interface {
	EnsureSession(repoPath, provider string, cols, rows uint16) (session.Info, error)
	ActiveSession(repoPath, provider string) (session.Info, bool)
	Send(sessionID string, data []byte) bool
}

// State is the per-repository auto-mode state. The pending wait timer is
// deliberately not part of it: timers do not survive a restart, state does.
type State struct {
	RepositoryPath    string     `json:"repository_path"`
	IsRunning         bool       `json:"is_running"`
	CurrentConfigID   string     `json:"current_config_id,omitempty"`
	LastExecutionTime *time.Time `json:"last_execution_time,omitempty"`
}

// Scheduler drives the per-repository auto-mode state machine. A single
// replaceable wait timer exists per repository: scheduling a new wait
// replaces the previous one, never stacks.
type Scheduler struct {
	configs  *ConfigStore
	sessions Sessions
	hub      ports.EventHub
	store    *store.Store

	minInterval  time.Duration
	startupDelay time.Duration
	provider     string

	mu     sync.Mutex
	states map[string]*State
	timers map[string]*time.Timer

	// injectable for tests
	now   func() time.Time
	delay func(time.Duration)
}

// NewScheduler creates the scheduler and restores persisted states.
// Repositories that were Running come back Running; any wait that was
// pending at shutdown is lost and will be re-established by the next
// hook event.
func NewScheduler(configs *ConfigStore, sessions Sessions, hub ports.EventHub, st *store.Store, minInterval, startupDelay time.Duration, provider string) *Scheduler {
	s := &Scheduler{
		configs:      configs,
		sessions:     sessions,
		hub:          hub,
		store:        st,
		minInterval:  minInterval,
		startupDelay: startupDelay,
		provider:     provider,
		states:       make(map[string]*State),
		timers:       make(map[string]*time.Timer),
		now:          func() time.Time { return time.Now().UTC() },
		delay:        time.Sleep,
	}

	var persisted []*State
	_ = st.Read(store.DocAutoModeState, &persisted)
	for _, st := range persisted {
		s.states[st.RepositoryPath] = st
	}
	return s
}

// Start moves a repository to Running with the given config. The config
// must exist, belong to the repository, and be enabled. A session is
// warmed opportunistically but no prompt is sent.
func (s *Scheduler) Start(repoPath, configID string) error {
	cfg, ok := s.configs.Get(configID)
	if !ok {
		return domain.ErrConfigNotFound
	}
	if cfg.RepositoryPath != repoPath {
		return domain.ErrConfigWrongRepo
	}
	if !cfg.IsEnabled {
		return domain.ErrConfigDisabled
	}

	s.mu.Lock()
	// A restart replaces the state wholesale; a wait scheduled against
	// the previous config must not fire into the new one.
	s.cancelTimerLocked(repoPath)
	now := s.now()
	st := &State{
		RepositoryPath:    repoPath,
		IsRunning:         true,
		CurrentConfigID:   configID,
		LastExecutionTime: &now,
	}
	s.states[repoPath] = st
	s.mu.Unlock()

	log.Info().Str("repo", repoPath).Str("config_id", configID).Msg("auto-mode started")

	// Warm a session so the first hook event lands in a live process.
	go func() {
		if _, err := s.sessions.EnsureSession(repoPath, s.provider, 0, 0); err != nil {
			log.Warn().Err(err).Str("repo", repoPath).Msg("auto-mode session warm-up failed")
		}
	}()

	s.persist()
	s.hub.Publish(events.NewAutoModeStatusEvent(events.AutoModeStatusPayload{
		RepositoryPath: repoPath,
		IsRunning:      true,
		ConfigID:       configID,
	}))
	return nil
}

// Stop returns a repository to Idle and cancels any pending wait timer.
func (s *Scheduler) Stop(repoPath string) error {
	s.mu.Lock()
	st, ok := s.states[repoPath]
	if !ok || !st.IsRunning {
		s.mu.Unlock()
		return domain.ErrAutoModeNotRunning
	}
	st.IsRunning = false
	st.CurrentConfigID = ""
	s.cancelTimerLocked(repoPath)
	s.mu.Unlock()

	log.Info().Str("repo", repoPath).Msg("auto-mode stopped")

	s.persist()
	s.hub.Publish(events.NewAutoModeStatusEvent(events.AutoModeStatusPayload{
		RepositoryPath: repoPath,
		IsRunning:      false,
	}))
	return nil
}

// OnHookEvent handles an "assistant turn ended" notification for a
// repository. No-op unless Running with an enabled config. Enforces the
// minimum inter-execution interval: inside the window a single deferred
// timer is (re)scheduled for the remaining delta; past it the prompt is
// dispatched immediately.
func (s *Scheduler) OnHookEvent(repoPath string) {
	s.mu.Lock()
	st, ok := s.states[repoPath]
	if !ok || !st.IsRunning {
		s.mu.Unlock()
		return
	}
	cfg, ok := s.configs.Get(st.CurrentConfigID)
	if !ok || !cfg.IsEnabled {
		s.mu.Unlock()
		return
	}

	now := s.now()
	if st.LastExecutionTime != nil {
		elapsed := now.Sub(*st.LastExecutionTime)
		if elapsed < s.minInterval {
			remaining := s.minInterval - elapsed
			s.scheduleWaitLocked(repoPath, remaining)
			s.mu.Unlock()

			log.Debug().
				Str("repo", repoPath).
				Dur("remaining", remaining).
				Msg("auto-mode hook inside minimum interval, deferred")

			s.hub.Publish(events.NewAutoModeWaitingEvent(events.AutoModeWaitingPayload{
				RepositoryPath:   repoPath,
				ConfigID:         cfg.ID,
				RemainingSeconds: int(remaining.Round(time.Second).Seconds()),
			}))
			return
		}
	}

	st.LastExecutionTime = &now
	s.cancelTimerLocked(repoPath)
	s.mu.Unlock()

	s.persist()
	go s.dispatch(repoPath, cfg)
}

// ForceExecute dispatches the prompt immediately, cancelling any pending
// wait timer first. Manual override for the minimum interval only: the
// config must still exist and be enabled, same as for a hook event.
func (s *Scheduler) ForceExecute(repoPath string) error {
	s.mu.Lock()
	st, ok := s.states[repoPath]
	if !ok || !st.IsRunning {
		s.mu.Unlock()
		return domain.ErrAutoModeNotRunning
	}
	cfg, ok := s.configs.Get(st.CurrentConfigID)
	if !ok {
		s.mu.Unlock()
		return domain.ErrConfigNotFound
	}
	if !cfg.IsEnabled {
		s.mu.Unlock()
		return domain.ErrConfigDisabled
	}
	s.cancelTimerLocked(repoPath)
	now := s.now()
	st.LastExecutionTime = &now
	s.mu.Unlock()

	s.persist()
	go s.dispatch(repoPath, cfg)
	return nil
}

// DeleteConfig removes a config; if it is the current config of a
// running repository, that repository is forced back to Idle.
func (s *Scheduler) DeleteConfig(configID string) error {
	cfg, ok := s.configs.Get(configID)
	if !ok {
		return domain.ErrConfigNotFound
	}
	if err := s.configs.Delete(configID); err != nil {
		return err
	}

	s.mu.Lock()
	st, running := s.states[cfg.RepositoryPath]
	forced := running && st.IsRunning && st.CurrentConfigID == configID
	s.mu.Unlock()

	if forced {
		_ = s.Stop(cfg.RepositoryPath)
	}
	return nil
}

// Status returns the state for a repository; Idle repositories without
// history report a zero state.
func (s *Scheduler) Status(repoPath string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[repoPath]; ok {
		return *st
	}
	return State{RepositoryPath: repoPath}
}

// List returns all known states.
func (s *Scheduler) List() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	return out
}

// Shutdown cancels all pending timers.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for repo := range s.timers {
		s.cancelTimerLocked(repo)
	}
}

// scheduleWaitLocked (re)schedules the single wait timer for a
// repository, replacing any pending one. Caller holds the lock.
func (s *Scheduler) scheduleWaitLocked(repoPath string, d time.Duration) {
	if t, ok := s.timers[repoPath]; ok {
		t.Stop()
	}
	s.timers[repoPath] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, repoPath)
		s.mu.Unlock()
		s.OnHookEvent(repoPath)
	})
}

// cancelTimerLocked stops and removes the pending timer for a
// repository, if any. Caller holds the lock.
func (s *Scheduler) cancelTimerLocked(repoPath string) {
	if t, ok := s.timers[repoPath]; ok {
		t.Stop()
		delete(s.timers, repoPath)
	}
}

// dispatch performs the prompt sequence against the repository's
// assistant session, creating one first if none is active.
func (s *Scheduler) dispatch(repoPath string, cfg *Config) {
	info, ok := s.sessions.ActiveSession(repoPath, s.provider)
	if !ok {
		created, err := s.sessions.EnsureSession(repoPath, s.provider, 0, 0)
		if err != nil {
			log.Error().Err(err).Str("repo", repoPath).Msg("auto-mode dispatch failed: no session")
			return
		}
		info = created
		// Let the freshly spawned process initialize before typing at it.
		s.delay(s.startupDelay)
	}

	if cfg.SendClearCommand {
		s.sessions.Send(info.ID, []byte("/clear"))
		s.delay(clearToReturnDelay)
		s.sessions.Send(info.ID, []byte("\r"))
		s.delay(clearSettleDelay)
	}

	s.sessions.Send(info.ID, []byte(cfg.Prompt))
	s.delay(promptToReturnDelay)
	s.sessions.Send(info.ID, []byte("\r"))

	log.Info().
		Str("repo", repoPath).
		Str("config_id", cfg.ID).
		Str("session_id", info.ID).
		Msg("auto-mode prompt dispatched")

	s.hub.Publish(events.NewAutoModePromptSentEvent(events.AutoModePromptSentPayload{
		RepositoryPath: repoPath,
		ConfigID:       cfg.ID,
		SessionID:      info.ID,
		Prompt:         cfg.Prompt,
		ClearedFirst:   cfg.SendClearCommand,
	}))
}

func (s *Scheduler) persist() {
	s.store.Schedule(store.DocAutoModeState, func() interface{} {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]*State, 0, len(s.states))
		for _, st := range s.states {
			cp := *st
			out = append(out, &cp)
		}
		return out
	})
}
