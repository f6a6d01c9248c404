package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/paneld/paneld/internal/config"
	"github.com/paneld/paneld/internal/pairing"
)

var (
	pairJSON        bool
	pairURL         bool
	pairExternalURL string
)

// pairCmd displays a QR code for connecting panel clients.
var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Display QR code for panel client pairing",
	Long: `Display a QR code that panel clients can scan to connect.

If a paneld server is running, its pairing info is used. Otherwise the
info is derived from the configuration.

Examples:
  paneld pair              # Display QR code in terminal
  paneld pair --json       # Output pairing info as JSON
  paneld pair --url        # Output connection URLs only`,
	RunE: runPair,
}

func init() {
	rootCmd.AddCommand(pairCmd)

	pairCmd.Flags().BoolVar(&pairJSON, "json", false, "output pairing info as JSON")
	pairCmd.Flags().BoolVar(&pairURL, "url", false, "output connection URLs only")
	pairCmd.Flags().StringVar(&pairExternalURL, "external-url", "", "override external URL for pairing output")
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	info, err := getPairingFromServer(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "No running paneld server found, using config defaults")
		gen := pairing.NewQRGenerator(
			cfg.Server.Host,
			cfg.Server.WebSocketPort,
			cfg.Server.HTTPPort,
			"paneld",
		)
		if pairExternalURL != "" {
			gen.SetExternalURLs(deriveWSURL(pairExternalURL), pairExternalURL)
		} else if cfg.Server.ExternalWSURL != "" || cfg.Server.ExternalHTTPURL != "" {
			gen.SetExternalURLs(cfg.Server.ExternalWSURL, cfg.Server.ExternalHTTPURL)
		}
		info = gen.PairingInfo()
	} else {
		fmt.Fprintln(os.Stderr, "Connected to running paneld server")
	}

	if pairJSON {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if pairURL {
		fmt.Printf("WebSocket: %s\n", info.WebSocket)
		fmt.Printf("HTTP:      %s\n", info.HTTP)
		return nil
	}

	return printQR(info)
}

func getPairingFromServer(cfg *config.Config) (*pairing.Info, error) {
	url := fmt.Sprintf("http://%s:%d/api/pair/info", cfg.Server.Host, cfg.Server.HTTPPort)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var info pairing.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// deriveWSURL converts a base HTTP URL into its WebSocket form.
func deriveWSURL(baseURL string) string {
	wsURL := baseURL
	if len(wsURL) > 8 && wsURL[:8] == "https://" {
		wsURL = "wss://" + wsURL[8:]
	} else if len(wsURL) > 7 && wsURL[:7] == "http://" {
		wsURL = "ws://" + wsURL[7:]
	}
	return wsURL + "/ws"
}

func printQR(info *pairing.Info) error {
	fmt.Println()
	fmt.Printf("  WebSocket: %s\n", info.WebSocket)
	fmt.Printf("  HTTP:      %s\n", info.HTTP)
	fmt.Println()

	gen := pairing.NewQRGenerator("", 0, 0, info.Name)
	gen.SetExternalURLs(info.WebSocket, info.HTTP)

	qrStr, err := gen.GenerateTerminal()
	if err != nil {
		return fmt.Errorf("failed to generate QR code: %w", err)
	}

	fmt.Println("  Scan to connect a panel client:")
	fmt.Println()
	for _, line := range splitLines(qrStr) {
		if line != "" {
			fmt.Printf("  %s\n", line)
		}
	}
	fmt.Println()

	return nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
