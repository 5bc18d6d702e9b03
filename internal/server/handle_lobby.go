package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/playperu/pubhunt/internal/geo"
	"github.com/playperu/pubhunt/internal/hunt"
	"github.com/playperu/pubhunt/internal/mapview"
	"github.com/playperu/pubhunt/internal/pubhunt"
)

// Host is the lobby part of a Controller: the actions that set a game up.
type Host interface {
	Start(ctx context.Context) error
	SetArea(ctx context.Context, center geo.Coordinate, radiusMeters float64) error
}

type AreaRequest struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Radius float64 `json:"radius"`
}

func handleStart(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := current(c).(Host)
		if !ok {
			writeError(w, r, http.StatusConflict, "the game has already started")
			return
		}
		if err := h.Start(r.Context()); err != nil {
			writeHostError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleArea(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AreaRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
		center := geo.Coordinate{Lat: req.Lat, Lon: req.Lon}
		if !center.Valid() {
			writeError(w, r, http.StatusBadRequest, "invalid center")
			return
		}
		if req.Radius <= 0 {
			writeError(w, r, http.StatusBadRequest, "radius must be positive")
			return
		}

		h, ok := current(c).(Host)
		if !ok {
			writeError(w, r, http.StatusConflict, "the game has already started")
			return
		}
		if err := h.SetArea(r.Context(), center, req.Radius); err != nil {
			writeHostError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeHostError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, hunt.ErrNotHost) {
		writeError(w, r, http.StatusForbidden, "only the host can do that")
		return
	}
	writeBackendError(w, r, err)
}

// Switch is a Controller that forwards to whichever view is current, so one
// server can follow a game from the lobby into play.
type Switch struct {
	mu sync.RWMutex
	c  Controller
}

func NewSwitch(c Controller) *Switch {
	return &Switch{c: c}
}

// Set makes c the view that requests reach.
func (s *Switch) Set(c Controller) {
	s.mu.Lock()
	s.c = c
	s.mu.Unlock()
}

func (s *Switch) Current() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c
}

func (s *Switch) GameID() int64                   { return s.Current().GameID() }
func (s *Switch) Game() (pubhunt.Game, bool)      { return s.Current().Game() }
func (s *Switch) Scene() (mapview.Scene, bool)    { return s.Current().Scene() }
func (s *Switch) Messages() []pubhunt.ChatMessage { return s.Current().Messages() }
func (s *Switch) ConnectionLost() bool            { return s.Current().ConnectionLost() }

func (s *Switch) PostMessage(ctx context.Context, content string) (pubhunt.ChatMessage, error) {
	return s.Current().PostMessage(ctx, content)
}

// current unwraps a Switch so optional actions are looked up on the live
// view.
func current(c Controller) Controller {
	if s, ok := c.(*Switch); ok {
		return s.Current()
	}
	return c
}
