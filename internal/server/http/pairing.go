package http

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/paneld/paneld/internal/pairing"
)

// PairingHandler serves pairing info and QR codes for client devices.
type PairingHandler struct {
	generator *pairing.QRGenerator
}

// NewPairingHandler creates a pairing handler.
func NewPairingHandler(generator *pairing.QRGenerator) *PairingHandler {
	return &PairingHandler{generator: generator}
}

// HandlePairInfo handles GET /api/pair/info.
func (h *PairingHandler) HandlePairInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.generator.PairingInfo())
}

// HandlePairQR handles GET /api/pair/qr, returning a PNG QR code.
func (h *PairingHandler) HandlePairQR(w http.ResponseWriter, r *http.Request) {
	size := parseIntParam(r, "size", 256)
	if size < 64 {
		size = 64
	}
	if size > 1024 {
		size = 1024
	}

	png, err := h.generator.GeneratePNG(size)
	if err != nil {
		log.Warn().Err(err).Msg("failed to generate pairing QR code")
		writeError(w, http.StatusInternalServerError, "failed to generate QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
