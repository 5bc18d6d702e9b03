package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playperu/pubhunt/internal/handler/health"
)

type Deps struct {
	Logger     *slog.Logger
	Controller Controller
	Broker     *Broker
	Checks     map[string]health.Checker
	// PublicURL is the base of invite links. Empty disables /api/invite.png.
	PublicURL string
}

// Routes returns the companion view's routes for New.
func Routes(d Deps) func(chi.Router) {
	return func(r chi.Router) {
		addRoutes(r, d)
	}
}

func addRoutes(r chi.Router, d Deps) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Pub Hunt view API", "/openapi.json", "/docs"))
	r.Mount("/healthz", health.NewHandler(d.Logger, d.Checks).Routes())

	c := d.Controller
	r.Route("/api", func(r chi.Router) {
		r.Get("/scene", handleScene(c))
		r.Get("/game", handleGame(c))
		r.Get("/messages", handleListMessages(c))
		r.Post("/messages", handlePostMessage(c))
		r.Post("/kitty", handleKitty(c))
		r.Post("/hint", handleHint(c))
		r.Post("/start", handleStart(c))
		r.Post("/area", handleArea(c))
		r.Get("/events", handleEvents(d.Broker, c))
		r.Get("/invite.png", handleInvite(c, d.PublicURL))
	})
}
