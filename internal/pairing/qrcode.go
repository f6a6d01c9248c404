// Package pairing handles client device pairing via QR codes.
package pairing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// Info contains the connection details encoded in the QR code.
type Info struct {
	WebSocket string `json:"ws"`
	HTTP      string `json:"http"`
	Name      string `json:"name"`
}

// QRGenerator generates QR codes for client pairing.
type QRGenerator struct {
	host            string
	wsPort          int
	httpPort        int
	name            string
	externalWSURL   string
	externalHTTPURL string
}

// NewQRGenerator creates a new QR code generator.
func NewQRGenerator(host string, wsPort, httpPort int, name string) *QRGenerator {
	return &QRGenerator{
		host:     host,
		wsPort:   wsPort,
		httpPort: httpPort,
		name:     name,
	}
}

// SetExternalURLs overrides the local host:port URLs, for tunnel or
// port-forwarding setups where clients cannot reach the bind address.
func (g *QRGenerator) SetExternalURLs(wsURL, httpURL string) {
	g.externalWSURL = wsURL
	g.externalHTTPURL = httpURL
}

// PairingInfo returns the connection details clients need.
func (g *QRGenerator) PairingInfo() *Info {
	wsURL := fmt.Sprintf("ws://%s:%d", g.host, g.wsPort)
	httpURL := fmt.Sprintf("http://%s:%d", g.host, g.httpPort)

	if g.externalWSURL != "" {
		wsURL = g.externalWSURL
	}
	if g.externalHTTPURL != "" {
		httpURL = g.externalHTTPURL
	}

	return &Info{
		WebSocket: wsURL,
		HTTP:      httpURL,
		Name:      g.name,
	}
}

// GenerateJSON returns the pairing info as JSON.
func (g *QRGenerator) GenerateJSON() (string, error) {
	data, err := json.Marshal(g.PairingInfo())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GenerateTerminal renders the QR code for terminal display.
func (g *QRGenerator) GenerateTerminal() (string, error) {
	jsonData, err := g.GenerateJSON()
	if err != nil {
		return "", err
	}

	qr, err := qrcode.New(jsonData, qrcode.Medium)
	if err != nil {
		return "", err
	}

	return qr.ToSmallString(false), nil
}

// GeneratePNG renders a PNG image of the QR code.
func (g *QRGenerator) GeneratePNG(size int) ([]byte, error) {
	jsonData, err := g.GenerateJSON()
	if err != nil {
		return nil, err
	}

	return qrcode.Encode(jsonData, qrcode.Medium, size)
}

// PrintToTerminal prints the QR code to the terminal with a caption.
func (g *QRGenerator) PrintToTerminal() {
	qrStr, err := g.GenerateTerminal()
	if err != nil {
		fmt.Printf("  [Error generating QR code: %v]\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Scan to connect a panel client:")
	fmt.Println()

	for _, line := range strings.Split(qrStr, "\n") {
		if line != "" {
			fmt.Printf("  %s\n", line)
		}
	}

	fmt.Println()
}
