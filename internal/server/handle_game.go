package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/playperu/pubhunt/internal/api"
	"github.com/playperu/pubhunt/internal/hunt"
	"github.com/playperu/pubhunt/internal/mapview"
	"github.com/playperu/pubhunt/internal/pubhunt"
)

// Controller is the game view the server exposes. *hunt.Lobby and
// *hunt.Active are both one.
type Controller interface {
	GameID() int64
	Game() (pubhunt.Game, bool)
	Scene() (mapview.Scene, bool)
	Messages() []pubhunt.ChatMessage
	ConnectionLost() bool
	PostMessage(ctx context.Context, content string) (pubhunt.ChatMessage, error)
}

// Player is the in-game part of a Controller, served while a game runs.
type Player interface {
	SubtractKitty(ctx context.Context, amount decimal.Decimal) (api.KittyResult, error)
	SendHint(ctx context.Context, text string) error
}

type MessageRequest struct {
	Content string `json:"content"`
}

type KittyRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type HintRequest struct {
	Hint string `json:"hint"`
}

func handleScene(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scene, ok := c.Scene()
		if !ok {
			writeError(w, r, http.StatusServiceUnavailable, "game not loaded yet")
			return
		}
		writeJSON(w, r, http.StatusOK, scene)
	}
}

func handleGame(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, ok := c.Game()
		if !ok {
			writeError(w, r, http.StatusServiceUnavailable, "game not loaded yet")
			return
		}
		writeJSON(w, r, http.StatusOK, g)
	}
}

func handleListMessages(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs := c.Messages()
		if msgs == nil {
			msgs = []pubhunt.ChatMessage{}
		}
		writeJSON(w, r, http.StatusOK, msgs)
	}
}

func handlePostMessage(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
		content := strings.TrimSpace(req.Content)
		if content == "" {
			writeError(w, r, http.StatusBadRequest, "content is required")
			return
		}

		msg, err := c.PostMessage(r.Context(), content)
		if err != nil {
			writeBackendError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, msg)
	}
}

func handleKitty(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req KittyRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
		if !req.Amount.IsPositive() {
			writeError(w, r, http.StatusBadRequest, "amount must be positive")
			return
		}

		p, ok := current(c).(Player)
		if !ok {
			writeError(w, r, http.StatusConflict, "the game has not started")
			return
		}
		res, err := p.SubtractKitty(r.Context(), req.Amount)
		if err != nil {
			writeBackendError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, res)
	}
}

func handleHint(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req HintRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
		hint := strings.TrimSpace(req.Hint)
		if hint == "" {
			writeError(w, r, http.StatusBadRequest, "hint is required")
			return
		}

		p, ok := current(c).(Player)
		if !ok {
			writeError(w, r, http.StatusConflict, "the game has not started")
			return
		}
		if err := p.SendHint(r.Context(), hint); err != nil {
			if errors.Is(err, hunt.ErrNoChannel) {
				writeError(w, r, http.StatusServiceUnavailable, "live updates are not connected")
				return
			}
			writeError(w, r, http.StatusBadGateway, "could not send hint")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeBackendError passes client errors of the game server through and
// reports everything else as a bad gateway.
func writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		status = apiErr.Status
	}
	writeError(w, r, status, api.Message(err))
}
