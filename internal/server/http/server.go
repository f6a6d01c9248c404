// Package http implements the HTTP control API for paneld.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/paneld/paneld/internal/automode"
	"github.com/paneld/paneld/internal/review"
	"github.com/paneld/paneld/internal/session"
	"github.com/paneld/paneld/internal/shortcut"
)

// WebSocketHandler handles WebSocket upgrade requests on /ws.
type WebSocketHandler func(http.ResponseWriter, *http.Request)

// Server is the HTTP control API server.
type Server struct {
	server    *http.Server
	router    *mux.Router
	addr      string
	registry  *session.Registry
	scheduler *automode.Scheduler
	configs   *automode.ConfigStore
	shortcuts *shortcut.Store
	reviews   *review.Supervisor
	wsHandler WebSocketHandler
	startTime time.Time
}

// New creates a new HTTP server wired to the panel's managers.
func New(host string, port int, registry *session.Registry, scheduler *automode.Scheduler, configs *automode.ConfigStore, shortcuts *shortcut.Store, reviews *review.Supervisor) *Server {
	s := &Server{
		addr:      fmt.Sprintf("%s:%d", host, port),
		router:    mux.NewRouter(),
		registry:  registry,
		scheduler: scheduler,
		configs:   configs,
		shortcuts: shortcuts,
		reviews:   reviews,
		startTime: time.Now(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)

	// Sessions
	s.router.HandleFunc("/api/sessions", s.handleListSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/sessions/ensure", s.handleEnsureSession).Methods(http.MethodPost)
	s.router.HandleFunc("/api/sessions/{id}/send", s.handleSend).Methods(http.MethodPost)
	s.router.HandleFunc("/api/sessions/{id}/resize", s.handleResize).Methods(http.MethodPost)
	s.router.HandleFunc("/api/sessions/{id}/signal", s.handleSignal).Methods(http.MethodPost)
	// History routes must precede the {id} route or "history" is taken
	// as a session id.
	s.router.HandleFunc("/api/sessions/history", s.handleHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/sessions/history", s.handleClearHistory).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/sessions/{id}", s.handleCloseSession).Methods(http.MethodDelete)

	// Terminals
	s.router.HandleFunc("/api/terminals", s.handleCreateTerminal).Methods(http.MethodPost)
	s.router.HandleFunc("/api/terminals/ensure", s.handleEnsureTerminal).Methods(http.MethodPost)
	s.router.HandleFunc("/api/terminals/{id}/history", s.handleTerminalHistory).Methods(http.MethodGet)

	// Repositories
	s.router.HandleFunc("/api/repositories/cleanup", s.handleCleanupRepository).Methods(http.MethodPost)

	// Auto mode
	s.router.HandleFunc("/api/automode/configs", s.handleListConfigs).Methods(http.MethodGet)
	s.router.HandleFunc("/api/automode/configs", s.handleCreateConfig).Methods(http.MethodPost)
	s.router.HandleFunc("/api/automode/configs/{id}", s.handleUpdateConfig).Methods(http.MethodPatch, http.MethodPut)
	s.router.HandleFunc("/api/automode/configs/{id}", s.handleDeleteConfig).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/automode/start", s.handleAutoModeStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/automode/stop", s.handleAutoModeStop).Methods(http.MethodPost)
	s.router.HandleFunc("/api/automode/status", s.handleAutoModeStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/automode/execute", s.handleAutoModeExecute).Methods(http.MethodPost)

	// Hooks (assistant lifecycle webhooks)
	s.router.HandleFunc("/api/hooks/{type}", s.handleHook).Methods(http.MethodPost)

	// Review servers
	s.router.HandleFunc("/api/review/servers", s.handleListReviewServers).Methods(http.MethodGet)
	s.router.HandleFunc("/api/review/start", s.handleReviewStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/review/stop", s.handleReviewStop).Methods(http.MethodPost)

	// Shortcuts
	s.router.HandleFunc("/api/shortcuts", s.handleListShortcuts).Methods(http.MethodGet)
	s.router.HandleFunc("/api/shortcuts", s.handleCreateShortcut).Methods(http.MethodPost)
	s.router.HandleFunc("/api/shortcuts/{id}", s.handleDeleteShortcut).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/shortcuts/{id}/execute", s.handleExecuteShortcut).Methods(http.MethodPost)

	return s
}

// SetWebSocketHandler registers the /ws upgrade handler. Must be
// called before Start().
func (s *Server) SetWebSocketHandler(handler WebSocketHandler) {
	s.wsHandler = handler
}

// SetPairingHandler registers pairing endpoints for client connection.
func (s *Server) SetPairingHandler(handler *PairingHandler) {
	if handler == nil {
		return
	}
	s.router.HandleFunc("/api/pair/info", handler.HandlePairInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/api/pair/qr", handler.HandlePairQR).Methods(http.MethodGet)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if s.wsHandler != nil {
		s.router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			s.wsHandler(w, r)
		})
	}

	var handler http.Handler = s.router
	handler = corsMiddleware(handler)
	handler = requestLoggingMiddleware(handler)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	log.Info().Str("addr", s.addr).Msg("HTTP server starting")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

func isLocalhostOrigin(origin string) bool {
	return strings.Contains(origin, "localhost") ||
		strings.Contains(origin, "127.0.0.1") ||
		strings.Contains(origin, "::1")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && isLocalhostOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":       len(sessions),
		"automode":       s.scheduler.List(),
		"review_servers": s.reviews.List(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	valStr := r.URL.Query().Get(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
