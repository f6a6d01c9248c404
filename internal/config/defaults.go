// Package config provides centralized default configuration values.
package config

import "github.com/spf13/viper"

// Provider names recognized by the session registry.
const (
	ProviderClaude = "claude"
	ProviderCodex  = "codex"
)

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8766)
	v.SetDefault("server.websocket_port", 8765)
	v.SetDefault("server.host", "127.0.0.1")

	// Session defaults
	v.SetDefault("sessions.history_limit", 500)
	v.SetDefault("sessions.kill_grace_ms", 2000)
	v.SetDefault("sessions.close_timeout_ms", 3000)
	v.SetDefault("sessions.providers", map[string]map[string]interface{}{
		ProviderClaude: {"command": "claude", "args": []string{}},
		ProviderCodex:  {"command": "codex", "args": []string{}},
	})

	// Auto-mode defaults
	v.SetDefault("automode.min_interval_secs", 300)
	v.SetDefault("automode.startup_delay_ms", 3000)

	// Review server defaults
	v.SetDefault("review.shared_port", 4966)
	v.SetDefault("review.command", "difit")
	v.SetDefault("review.start_timeout_ms", 10000)

	// Storage defaults
	v.SetDefault("storage.state_dir", "")
	v.SetDefault("storage.flush_debounce_ms", 250)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Pairing defaults
	v.SetDefault("pairing.show_qr_in_terminal", true)
}
