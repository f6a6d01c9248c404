package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/paneld/paneld/internal/app"
	"github.com/paneld/paneld/internal/config"
)

var (
	startHost     string
	startHTTPPort int
	startWSPort   int
	startStateDir string
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the paneld server",
	Long: `Start the paneld server and begin accepting panel client
connections.

Sessions persisted from a previous run are restored on startup: live
processes are re-adopted as detached ghosts and respawned on the first
input sent to them.

Example:
  paneld start
  paneld start --http-port 9000 --ws-port 9001
  paneld start --state-dir /var/lib/paneld`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startHost, "host", "", "bind address (default: from config)")
	startCmd.Flags().IntVar(&startHTTPPort, "http-port", 0, "HTTP API port (default: 8766)")
	startCmd.Flags().IntVar(&startWSPort, "ws-port", 0, "WebSocket event port (default: 8765)")
	startCmd.Flags().StringVar(&startStateDir, "state-dir", "", "state directory (default: ~/.paneld/state)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if startHost != "" {
		cfg.Server.Host = startHost
	}
	if startHTTPPort != 0 {
		cfg.Server.HTTPPort = startHTTPPort
	}
	if startWSPort != 0 {
		cfg.Server.WebSocketPort = startWSPort
	}
	if startStateDir != "" {
		cfg.Storage.StateDir = startStateDir
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("host", cfg.Server.Host).
		Int("http_port", cfg.Server.HTTPPort).
		Int("ws_port", cfg.Server.WebSocketPort).
		Msg("starting paneld")

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("paneld stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Console formatting only when stderr is an actual terminal; piped
	// or service-managed output stays structured JSON.
	isTTY := term.IsTerminal(int(os.Stderr.Fd()))
	if (cfg.Logging.Format == "console" && isTTY) || verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
