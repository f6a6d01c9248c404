package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

func (s *Server) handleListReviewServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"servers": s.reviews.List(),
	})
}

func (s *Server) handleReviewStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepositoryPath string `json:"repository_path"`
		DiffSpec       string `json:"diff_spec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RepositoryPath == "" {
		writeError(w, http.StatusBadRequest, "repository_path is required")
		return
	}

	srv, err := s.reviews.Start(req.RepositoryPath, req.DiffSpec)
	if err != nil {
		log.Error().Err(err).Str("repo", req.RepositoryPath).Msg("review server start failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleReviewStop(w http.ResponseWriter, r *http.Request) {
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

	if !s.reviews.Stop(req.RepositoryPath) {
		writeError(w, http.StatusNotFound, "no review server for repository")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
