package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/paneld/paneld/internal/automode"
	"github.com/paneld/paneld/internal/domain"
)

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repository_path")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configs": s.configs.List(repo),
	})
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepositoryPath   string `json:"repository_path"`
		Name             string `json:"name"`
		Prompt           string `json:"prompt"`
		IsEnabled        *bool  `json:"is_enabled"`
		SendClearCommand *bool  `json:"send_clear_command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RepositoryPath == "" || req.Name == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "repository_path, name and prompt are required")
		return
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}
	sendClear := true
	if req.SendClearCommand != nil {
		sendClear = *req.SendClearCommand
	}

	cfg := s.configs.Create(req.RepositoryPath, req.Name, req.Prompt, enabled, sendClear)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Name             *string `json:"name"`
		Prompt           *string `json:"prompt"`
		IsEnabled        *bool   `json:"is_enabled"`
		SendClearCommand *bool   `json:"send_clear_command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	cfg, err := s.configs.Update(id, automode.ConfigUpdate{
		Name:             req.Name,
		Prompt:           req.Prompt,
		IsEnabled:        req.IsEnabled,
		SendClearCommand: req.SendClearCommand,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Routed through the scheduler so a running auto mode bound to this
	// config is stopped as part of the delete.
	if err := s.scheduler.DeleteConfig(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAutoModeStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepositoryPath string `json:"repository_path"`
		ConfigID       string `json:"config_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RepositoryPath == "" || req.ConfigID == "" {
		writeError(w, http.StatusBadRequest, "repository_path and config_id are required")
		return
	}

	if err := s.scheduler.Start(req.RepositoryPath, req.ConfigID); err != nil {
		status := http.StatusConflict
		if errors.Is(err, domain.ErrConfigNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Status(req.RepositoryPath))
}

func (s *Server) handleAutoModeStop(w http.ResponseWriter, r *http.Request) {
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

	if err := s.scheduler.Stop(req.RepositoryPath); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Status(req.RepositoryPath))
}

func (s *Server) handleAutoModeStatus(w http.ResponseWriter, r *http.Request) {
	if repo := r.URL.Query().Get("repository_path"); repo != "" {
		writeJSON(w, http.StatusOK, s.scheduler.Status(repo))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"states": s.scheduler.List(),
	})
}

func (s *Server) handleAutoModeExecute(w http.ResponseWriter, r *http.Request) {
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

	if err := s.scheduler.ForceExecute(req.RepositoryPath); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
