// Package app orchestrates all components of paneld.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paneld/paneld/internal/automode"
	"github.com/paneld/paneld/internal/config"
	"github.com/paneld/paneld/internal/hub"
	"github.com/paneld/paneld/internal/pairing"
	"github.com/paneld/paneld/internal/review"
	httpserver "github.com/paneld/paneld/internal/server/http"
	wsserver "github.com/paneld/paneld/internal/server/websocket"
	"github.com/paneld/paneld/internal/session"
	"github.com/paneld/paneld/internal/shortcut"
	"github.com/paneld/paneld/internal/store"
)

// App is the main application struct that wires all components.
type App struct {
	cfg     *config.Config
	version string

	hub         *hub.Hub
	store       *store.Store
	registry    *session.Registry
	configs     *automode.ConfigStore
	scheduler   *automode.Scheduler
	shortcuts   *shortcut.Store
	reviews     *review.Supervisor
	httpServer  *httpserver.Server
	wsServer    *wsserver.Server
	qrGenerator *pairing.QRGenerator

	startTime time.Time

	mu      sync.Mutex
	running bool
}

// New creates a new App instance. Components are constructed eagerly so
// wiring errors surface before anything listens on the network.
func New(cfg *config.Config, version string) (*App, error) {
	a := &App{
		cfg:     cfg,
		version: version,
		hub:     hub.New(),
	}

	a.store = store.New(cfg.Storage.StateDir, cfg.Storage.FlushDebounce())

	a.registry = session.NewRegistry(cfg.Sessions, a.hub, a.store)

	a.configs = automode.NewConfigStore(a.store)
	a.scheduler = automode.NewScheduler(
		a.configs,
		a.registry,
		a.hub,
		a.store,
		cfg.AutoMode.MinInterval(),
		cfg.AutoMode.StartupDelay(),
		config.ProviderClaude,
	)

	a.shortcuts = shortcut.NewStore(a.store, a.registry)
	a.reviews = review.NewSupervisor(cfg.Review, a.hub)

	a.wsServer = wsserver.NewServer(cfg.Server.Host, cfg.Server.WebSocketPort, a.handleClientMessage, a.hub)
	a.wsServer.SetSessionCounter(a.registry)

	a.httpServer = httpserver.New(
		cfg.Server.Host,
		cfg.Server.HTTPPort,
		a.registry,
		a.scheduler,
		a.configs,
		a.shortcuts,
		a.reviews,
	)
	// /ws on the HTTP port upgrades into the same event stream as the
	// dedicated WebSocket port, so clients behind single-port tunnels
	// still get events.
	a.httpServer.SetWebSocketHandler(a.wsServer.HandleUpgrade)

	a.qrGenerator = pairing.NewQRGenerator(
		cfg.Server.Host,
		cfg.Server.WebSocketPort,
		cfg.Server.HTTPPort,
		"paneld",
	)
	if cfg.Server.ExternalWSURL != "" || cfg.Server.ExternalHTTPURL != "" {
		a.qrGenerator.SetExternalURLs(cfg.Server.ExternalWSURL, cfg.Server.ExternalHTTPURL)
	}
	a.httpServer.SetPairingHandler(httpserver.NewPairingHandler(a.qrGenerator))

	return a, nil
}

// Start starts the application and blocks until the context is
// cancelled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	if err := a.hub.Start(); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	// Restore persisted sessions before anything can reach the registry.
	a.registry.Restore()

	if err := a.wsServer.Start(); err != nil {
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}
	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	log.Info().
		Str("version", a.version).
		Str("host", a.cfg.Server.Host).
		Int("http_port", a.cfg.Server.HTTPPort).
		Int("ws_port", a.cfg.Server.WebSocketPort).
		Str("state_dir", a.cfg.Storage.StateDir).
		Msg("paneld started")

	if a.cfg.Pairing.ShowQRInTerminal {
		a.qrGenerator.PrintToTerminal()
	}

	<-ctx.Done()

	return a.shutdown()
}

// shutdown performs graceful shutdown of all components.
func (a *App) shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false

	log.Info().Msg("shutting down...")

	a.scheduler.Shutdown()
	a.reviews.StopAll()
	a.registry.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping HTTP server")
	}
	if err := a.wsServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping WebSocket server")
	}

	// Flush any pending persistence writes after all writers stopped.
	a.store.Close()

	if err := a.hub.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping event hub")
	}

	return nil
}

// handleClientMessage dispatches inbound control frames from WebSocket
// clients. Input and resize bypass the HTTP round-trip so keystrokes
// reach the PTY with minimal latency; everything else stays on the
// HTTP API.
func (a *App) handleClientMessage(clientID string, message []byte) {
	var msg struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Input     string `json:"input"`
		Cols      uint16 `json:"cols"`
		Rows      uint16 `json:"rows"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("client_id", clientID).Msg("malformed client message")
		return
	}

	switch msg.Type {
	case "send":
		if !a.registry.Send(msg.SessionID, []byte(msg.Input)) {
			log.Debug().Str("session_id", msg.SessionID).Msg("client send to unknown session")
		}
	case "resize":
		if !a.registry.ResizeByID(msg.SessionID, msg.Cols, msg.Rows) {
			log.Debug().Str("session_id", msg.SessionID).Msg("client resize on unknown session")
		}
	default:
		log.Debug().Str("type", msg.Type).Str("client_id", clientID).Msg("unknown client message type")
	}
}

// UptimeSeconds returns the server uptime in seconds.
func (a *App) UptimeSeconds() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(a.startTime).Seconds())
}
