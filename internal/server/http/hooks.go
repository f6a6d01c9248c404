package http

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// hookPayload is the body posted by assistant lifecycle hooks. Fields
// beyond the ones used here are accepted and ignored.
type hookPayload struct {
	SessionID      string `json:"session_id,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	HookEventName  string `json:"hook_event_name,omitempty"`
}

// handleHook handles POST /api/hooks/{type}. Only the turn-ended hook
// ("stop") feeds the auto-mode scheduler, and only when its cwd lies
// under a repository with auto-mode configs. Everything else is
// acknowledged and dropped.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	hookType := mux.Vars(r)["type"]

	body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024))
	if err != nil {
		log.Warn().Err(err).Msg("failed to read hook body")
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	var payload hookPayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Debug().Err(err).Msg("failed to parse hook payload")
		}
	}

	log.Debug().
		Str("hook_type", hookType).
		Str("cwd", payload.Cwd).
		Str("event", payload.HookEventName).
		Msg("received hook event")

	if !isTurnEndedHook(hookType, payload.HookEventName) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	repo, ok := s.managedRepoFor(payload.Cwd)
	if !ok {
		log.Debug().Str("cwd", payload.Cwd).Msg("hook cwd not under a managed repository")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	s.scheduler.OnHookEvent(repo)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func isTurnEndedHook(hookType, eventName string) bool {
	return strings.EqualFold(hookType, "stop") || eventName == "Stop"
}

// managedRepoFor maps a hook cwd to the repository it belongs to. A
// repository is managed when at least one auto-mode config exists for
// it; cwd may be the repo root or any directory beneath it.
func (s *Server) managedRepoFor(cwd string) (string, bool) {
	if cwd == "" {
		return "", false
	}
	cwd = filepath.Clean(cwd)

	for _, cfg := range s.configs.List("") {
		repo := filepath.Clean(cfg.RepositoryPath)
		if cwd == repo || strings.HasPrefix(cwd, repo+string(filepath.Separator)) {
			return cfg.RepositoryPath, true
		}
	}
	return "", false
}
