package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/paneld/paneld/internal/config"
)

var (
	configInitLocal bool
	configInitForce bool
)

// configCmd displays or manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display and manage configuration",
	Long: `Display and manage paneld configuration.

Without subcommands, shows the current effective configuration.

Examples:
  paneld config              # Show current config
  paneld config init         # Create config file with defaults
  paneld config path         # Show config file location
  paneld config get <key>    # Get a config value
  paneld config set <key> <value>  # Set a config value`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		printConfig(cfg)
	},
}

// configInitCmd creates a config file with defaults.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with default settings",
	Long: `Create a config file with default settings and documentation.

By default, creates ~/.paneld/config.yaml.
Use --local to create ./config.yaml in the current directory.

Examples:
  paneld config init          # Create ~/.paneld/config.yaml
  paneld config init --local  # Create ./config.yaml
  paneld config init --force  # Overwrite existing file`,
	RunE: runConfigInit,
}

// configPathCmd shows config file location.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file location",
	Run:   runConfigPath,
}

// configGetCmd gets a config value.
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get a configuration value by key.

Keys use dot notation to access nested values.

Examples:
  paneld config get server.http_port
  paneld config get logging.level
  paneld config get sessions.history_limit`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

// configSetCmd sets a config value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value by key.

Creates the config file if it doesn't exist.
Keys use dot notation to access nested values.

Examples:
  paneld config set server.http_port 9000
  paneld config set logging.level debug
  paneld config set review.shared_port 5000`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "create config in current directory instead of ~/.paneld/")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing config file")
}

func printConfig(cfg *config.Config) {
	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("Host:              %s\n", cfg.Server.Host)
	fmt.Printf("HTTP Port:         %d\n", cfg.Server.HTTPPort)
	fmt.Printf("WebSocket Port:    %d\n", cfg.Server.WebSocketPort)
	fmt.Printf("State Dir:         %s\n", cfg.Storage.StateDir)
	fmt.Printf("History Limit:     %d\n", cfg.Sessions.HistoryLimit)
	fmt.Printf("Shell:             %s\n", cfg.Sessions.Shell)
	fmt.Printf("Review Port:       %d\n", cfg.Review.SharedPort)
	fmt.Printf("Review Command:    %s\n", cfg.Review.Command)
	fmt.Printf("Log Level:         %s\n", cfg.Logging.Level)
	fmt.Printf("Log Format:        %s\n", cfg.Logging.Format)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var configPath string

	if configInitLocal {
		configPath = "config.yaml"
	} else {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		if !configInitForce {
			return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
		}
	}

	if err := writeDefaultConfig(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("Edit this file to customize paneld behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) {
	configDir, err := config.GetConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting config dir: %v\n", err)
		os.Exit(1)
	}

	locations := []string{
		"./config.yaml",
		filepath.Join(configDir, "config.yaml"),
		"/etc/paneld/config.yaml",
	}

	fmt.Println("Config search paths (in order):")
	for i, loc := range locations {
		exists := "not found"
		if _, err := os.Stat(loc); err == nil {
			exists = "exists"
		}
		fmt.Printf("  %d. %s (%s)\n", i+1, loc, exists)
	}

	fmt.Printf("\nConfig directory: %s\n", configDir)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	value, err := getConfigValue(cfg, key)
	if err != nil {
		return err
	}

	fmt.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configDir, err := config.EnsureConfigDir()
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	var data map[string]interface{}

	if content, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(content, &data); err != nil {
			return fmt.Errorf("failed to parse existing config: %w", err)
		}
	}

	if data == nil {
		data = make(map[string]interface{})
	}

	if err := setNestedValue(data, key, value); err != nil {
		return err
	}

	content, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Set %s = %s in %s\n", key, value, configPath)
	return nil
}

func getConfigValue(cfg *config.Config, key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid key: %s", key)
	}

	switch parts[0] {
	case "server":
		switch parts[1] {
		case "http_port":
			return cfg.Server.HTTPPort, nil
		case "websocket_port":
			return cfg.Server.WebSocketPort, nil
		case "host":
			return cfg.Server.Host, nil
		}
	case "sessions":
		switch parts[1] {
		case "history_limit":
			return cfg.Sessions.HistoryLimit, nil
		case "kill_grace_ms":
			return cfg.Sessions.KillGraceMS, nil
		case "close_timeout_ms":
			return cfg.Sessions.CloseTimeoutMS, nil
		case "shell":
			return cfg.Sessions.Shell, nil
		}
	case "automode":
		switch parts[1] {
		case "min_interval_secs":
			return cfg.AutoMode.MinIntervalSecs, nil
		case "startup_delay_ms":
			return cfg.AutoMode.StartupDelayMS, nil
		}
	case "review":
		switch parts[1] {
		case "shared_port":
			return cfg.Review.SharedPort, nil
		case "command":
			return cfg.Review.Command, nil
		case "start_timeout_ms":
			return cfg.Review.StartTimeoutMS, nil
		}
	case "storage":
		switch parts[1] {
		case "state_dir":
			return cfg.Storage.StateDir, nil
		case "flush_debounce_ms":
			return cfg.Storage.FlushDebounceMS, nil
		}
	case "logging":
		switch parts[1] {
		case "level":
			return cfg.Logging.Level, nil
		case "format":
			return cfg.Logging.Format, nil
		}
	}

	return nil, fmt.Errorf("unknown config key: %s", key)
}

func setNestedValue(data map[string]interface{}, key string, value string) error {
	parts := strings.Split(key, ".")

	current := data
	for i := 0; i < len(parts)-1; i++ {
		if _, ok := current[parts[i]]; !ok {
			current[parts[i]] = make(map[string]interface{})
		}
		if nested, ok := current[parts[i]].(map[string]interface{}); ok {
			current = nested
		} else {
			return fmt.Errorf("cannot set nested value: %s is not a map", parts[i])
		}
	}

	current[parts[len(parts)-1]] = parseValue(key, value)
	return nil
}

func parseValue(key string, value string) interface{} {
	if value == "true" {
		return true
	}
	if value == "false" {
		return false
	}

	intKeys := []string{"_port", "_ms", "_secs", "history_limit"}
	for _, k := range intKeys {
		if strings.HasSuffix(key, k) {
			var i int
			if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
				return i
			}
		}
	}

	return value
}

func writeDefaultConfig(path string) error {
	content := `# paneld Configuration
# Copy this file to ~/.paneld/config.yaml and modify as needed

# Server settings
server:
  # HTTP API port
  http_port: 8766

  # WebSocket event streaming port
  websocket_port: 8765

  # Bind address (use 0.0.0.0 to allow external connections)
  host: "127.0.0.1"

  # External URLs for tunnels / port forwarding
  # When set, the pairing QR contains these instead of host:port
  # external_http_url: "https://your-tunnel.devtunnels.ms"
  # external_ws_url: "wss://your-tunnel.devtunnels.ms/ws"

# Session management
sessions:
  # Output history lines kept per session
  history_limit: 500

  # Grace period before SIGKILL when closing a session (milliseconds)
  kill_grace_ms: 2000

  # Overall ceiling on a close operation (milliseconds)
  close_timeout_ms: 3000

  # Shell for terminal sessions (default: $SHELL)
  # shell: "/bin/zsh"

  # AI CLI providers
  providers:
    claude:
      command: "claude"
    codex:
      command: "codex"

# Auto-mode scheduler
automode:
  # Minimum seconds between prompt dispatches per repository
  min_interval_secs: 300

  # Delay before dispatching into a freshly spawned session (milliseconds)
  startup_delay_ms: 3000

# Review server supervisor
review:
  # Shared port all review servers contend for
  shared_port: 4966

  # Diff review tool command
  command: "difit"

  # How long to wait for the tool to announce its port (milliseconds)
  start_timeout_ms: 10000

# Persistence
storage:
  # State directory (default: ~/.paneld/state)
  # state_dir: "/var/lib/paneld"

  # Write coalescing window (milliseconds)
  flush_debounce_ms: 250

# Logging settings
logging:
  # Log level: trace, debug, info, warn, error
  level: "info"

  # Log format: console (human-readable) or json
  format: "console"

# Client pairing
pairing:
  show_qr_in_terminal: true
`

	return os.WriteFile(path, []byte(content), 0644)
}
