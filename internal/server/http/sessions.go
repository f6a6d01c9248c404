package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.registry.List(),
	})
}

func (s *Server) handleEnsureSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepositoryPath string `json:"repository_path"`
		Provider       string `json:"provider"`
		Cols           uint16 `json:"cols"`
		Rows           uint16 `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RepositoryPath == "" || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "repository_path and provider are required")
		return
	}

	info, err := s.registry.EnsureSession(req.RepositoryPath, req.Provider, req.Cols, req.Rows)
	if err != nil {
		log.Error().Err(err).Str("repo", req.RepositoryPath).Str("provider", req.Provider).Msg("ensure session failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if !s.registry.Send(id, []byte(req.Input)) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if !s.registry.ResizeByID(id, req.Cols, req.Rows) {
		writeError(w, http.StatusNotFound, "session not found or not attached")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Signal string `json:"signal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Signal == "" {
		writeError(w, http.StatusBadRequest, "signal is required")
		return
	}

	if !s.registry.Signal(id, req.Signal) {
		writeError(w, http.StatusNotFound, "session not found or signal not deliverable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.registry.Close(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repository_path")
	provider := r.URL.Query().Get("provider")
	if repo == "" || provider == "" {
		writeError(w, http.StatusBadRequest, "repository_path and provider are required")
		return
	}

	lines := s.registry.History(repo, provider)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"repository_path": repo,
		"provider":        provider,
		"lines":           lines,
		"total":           len(lines),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repository_path")
	provider := r.URL.Query().Get("provider")
	if repo == "" || provider == "" {
		writeError(w, http.StatusBadRequest, "repository_path and provider are required")
		return
	}

	if !s.registry.ClearHistory(repo, provider) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCleanupRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepositoryPath string `json:"repository_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RepositoryPath == "" {
		writeError(w, http.StatusBadRequest, "repository_path is required")
		return
	}

	closed := s.registry.CleanupRepository(req.RepositoryPath)
	reviewStopped := s.reviews.Stop(req.RepositoryPath)

	log.Info().
		Str("repo", req.RepositoryPath).
		Int("closed", closed).
		Bool("review_stopped", reviewStopped).
		Msg("repository cleaned up")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"closed_sessions":       closed,
		"review_server_stopped": reviewStopped,
	})
}

func (s *Server) handleCreateTerminal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepositoryPath string `json:"repository_path"`
		Cols           uint16 `json:"cols"`
		Rows           uint16 `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RepositoryPath == "" {
		writeError(w, http.StatusBadRequest, "repository_path is required")
		return
	}

	info, err := s.registry.CreateTerminal(req.RepositoryPath, req.Cols, req.Rows)
	if err != nil {
		log.Error().Err(err).Str("repo", req.RepositoryPath).Msg("create terminal failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEnsureTerminal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TerminalID     string `json:"terminal_id"`
		RepositoryPath string `json:"repository_path"`
		Cols           uint16 `json:"cols"`
		Rows           uint16 `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RepositoryPath == "" {
		writeError(w, http.StatusBadRequest, "repository_path is required")
		return
	}

	info, err := s.registry.EnsureTerminal(req.TerminalID, req.RepositoryPath, req.Cols, req.Rows)
	if err != nil {
		log.Error().Err(err).Str("repo", req.RepositoryPath).Msg("ensure terminal failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTerminalHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	lines := s.registry.TerminalHistory(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"terminal_id": id,
		"lines":       lines,
		"total":       len(lines),
	})
}
