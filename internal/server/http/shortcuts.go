package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleListShortcuts(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repository_path")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shortcuts": s.shortcuts.List(repo),
	})
}

func (s *Server) handleCreateShortcut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepositoryPath string `json:"repository_path"`
		Name           string `json:"name"`
		Command        string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" || req.Command == "" {
		writeError(w, http.StatusBadRequest, "name and command are required")
		return
	}

	sc := s.shortcuts.Create(req.RepositoryPath, req.Name, req.Command)
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleDeleteShortcut(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.shortcuts.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleExecuteShortcut(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		TerminalID string `json:"terminal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TerminalID == "" {
		writeError(w, http.StatusBadRequest, "terminal_id is required")
		return
	}

	if !s.shortcuts.Execute(id, req.TerminalID) {
		writeError(w, http.StatusNotFound, "shortcut or terminal not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
