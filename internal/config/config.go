// Package config handles configuration management for paneld.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	AutoMode AutoModeConfig `mapstructure:"automode"`
	Review   ReviewConfig   `mapstructure:"review"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pairing  PairingConfig  `mapstructure:"pairing"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	HTTPPort        int    `mapstructure:"http_port"`
	WebSocketPort   int    `mapstructure:"websocket_port"`
	Host            string `mapstructure:"host"`
	ExternalWSURL   string `mapstructure:"external_ws_url"`   // Optional: public URL for WebSocket (tunnels, port forwarding)
	ExternalHTTPURL string `mapstructure:"external_http_url"` // Optional: public URL for HTTP API
}

// ProviderConfig describes how to launch one AI CLI provider.
type ProviderConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// SessionsConfig holds session registry configuration.
type SessionsConfig struct {
	HistoryLimit   int                       `mapstructure:"history_limit"`
	KillGraceMS    int                       `mapstructure:"kill_grace_ms"`
	CloseTimeoutMS int                       `mapstructure:"close_timeout_ms"`
	Shell          string                    `mapstructure:"shell"`
	Providers      map[string]ProviderConfig `mapstructure:"providers"`
}

// KillGrace returns the graceful-termination grace period.
func (c SessionsConfig) KillGrace() time.Duration {
	return time.Duration(c.KillGraceMS) * time.Millisecond
}

// CloseTimeout returns the overall close ceiling.
func (c SessionsConfig) CloseTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutMS) * time.Millisecond
}

// AutoModeConfig holds auto-mode scheduler configuration.
type AutoModeConfig struct {
	MinIntervalSecs int `mapstructure:"min_interval_secs"`
	StartupDelayMS  int `mapstructure:"startup_delay_ms"`
}

// MinInterval returns the minimum inter-execution interval.
func (c AutoModeConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSecs) * time.Second
}

// StartupDelay returns the delay before dispatching into a freshly spawned session.
func (c AutoModeConfig) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelayMS) * time.Millisecond
}

// ReviewConfig holds review server supervisor configuration.
type ReviewConfig struct {
	SharedPort     int    `mapstructure:"shared_port"`
	Command        string `mapstructure:"command"`
	StartTimeoutMS int    `mapstructure:"start_timeout_ms"`
}

// StartTimeout returns the bounded wait for the port marker in review output.
func (c ReviewConfig) StartTimeout() time.Duration {
	return time.Duration(c.StartTimeoutMS) * time.Millisecond
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	StateDir        string `mapstructure:"state_dir"`
	FlushDebounceMS int    `mapstructure:"flush_debounce_ms"`
}

// FlushDebounce returns the persistence write coalescing window.
func (c StorageConfig) FlushDebounce() time.Duration {
	return time.Duration(c.FlushDebounceMS) * time.Millisecond
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PairingConfig holds pairing/QR code configuration.
type PairingConfig struct {
	ShowQRInTerminal bool `mapstructure:"show_qr_in_terminal"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.paneld")
		v.AddConfigPath("/etc/paneld")
	}

	v.SetEnvPrefix("PANELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := postProcess(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// postProcess applies post-processing to configuration.
func postProcess(cfg *Config) error {
	if cfg.Storage.StateDir == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve state directory: %w", err)
		}
		cfg.Storage.StateDir = filepath.Join(dir, "state")
	}

	absDir, err := filepath.Abs(cfg.Storage.StateDir)
	if err != nil {
		return fmt.Errorf("failed to resolve state directory: %w", err)
	}
	cfg.Storage.StateDir = absDir

	if cfg.Sessions.Shell == "" {
		if sh := os.Getenv("SHELL"); sh != "" {
			cfg.Sessions.Shell = sh
		} else {
			cfg.Sessions.Shell = "/bin/bash"
		}
	}

	return nil
}

// GetConfigDir returns the user config directory for paneld.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".paneld"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
