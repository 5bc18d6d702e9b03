package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// InviteURL is the lobby link other players open to join gameID.
func InviteURL(publicURL string, gameID int64) string {
	return fmt.Sprintf("%s/lobby/%d", strings.TrimRight(publicURL, "/"), gameID)
}

// InvitePNG renders the invite link as a QR code.
func InvitePNG(publicURL string, gameID int64, size int) ([]byte, error) {
	png, err := qrcode.Encode(InviteURL(publicURL, gameID), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encoding invite qr: %w", err)
	}
	return png, nil
}

func handleInvite(c Controller, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if publicURL == "" {
			writeError(w, r, http.StatusNotFound, "invite links are not configured")
			return
		}

		size := defaultQRSize
		if raw := r.URL.Query().Get("size"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < minQRSize || n > maxQRSize {
				writeError(w, r, http.StatusBadRequest, fmt.Sprintf("size must be between %d and %d", minQRSize, maxQRSize))
				return
			}
			size = n
		}

		png, err := InvitePNG(publicURL, c.GameID(), size)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "could not render invite")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
	}
}
