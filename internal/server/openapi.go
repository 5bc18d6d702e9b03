package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/pubhunt/internal/api"
	"github.com/playperu/pubhunt/internal/mapview"
	"github.com/playperu/pubhunt/internal/pubhunt"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse maps each check to its status.
type HealthResponse map[string]struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Pub Hunt view API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Local companion API of a running Pub Hunt game.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Reports the local state database and the game server connection.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /api/scene
	getScene, _ := r.NewOperationContext(http.MethodGet, "/api/scene")
	getScene.SetSummary("Map scene")
	getScene.SetDescription("Center, bounds, play area and player markers. refit is true when the map should re-frame.")
	getScene.AddRespStructure(mapview.Scene{}, openapi.WithHTTPStatus(http.StatusOK))
	getScene.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getScene)

	// GET /api/game
	getGame, _ := r.NewOperationContext(http.MethodGet, "/api/game")
	getGame.SetSummary("Game state")
	getGame.SetDescription("The last game state fetched from the game server.")
	getGame.AddRespStructure(pubhunt.Game{}, openapi.WithHTTPStatus(http.StatusOK))
	getGame.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getGame)

	// GET /api/messages
	listMessages, _ := r.NewOperationContext(http.MethodGet, "/api/messages")
	listMessages.SetSummary("Chat history")
	listMessages.SetDescription("Chat messages of the game, oldest first.")
	listMessages.AddRespStructure([]pubhunt.ChatMessage{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(listMessages)

	// POST /api/messages
	postMessage, _ := r.NewOperationContext(http.MethodPost, "/api/messages")
	postMessage.SetSummary("Send chat message")
	postMessage.AddReqStructure(MessageRequest{})
	postMessage.AddRespStructure(pubhunt.ChatMessage{}, openapi.WithHTTPStatus(http.StatusCreated))
	postMessage.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postMessage.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadGateway))
	_ = r.AddOperation(postMessage)

	// POST /api/kitty
	postKitty, _ := r.NewOperationContext(http.MethodPost, "/api/kitty")
	postKitty.SetSummary("Subtract from kitty")
	postKitty.SetDescription("Takes amount out of the kitty. game_ended is true when that emptied it.")
	postKitty.AddReqStructure(KittyRequest{})
	postKitty.AddRespStructure(api.KittyResult{}, openapi.WithHTTPStatus(http.StatusOK))
	postKitty.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postKitty.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postKitty.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadGateway))
	_ = r.AddOperation(postKitty)

	// POST /api/hint
	postHint, _ := r.NewOperationContext(http.MethodPost, "/api/hint")
	postHint.SetSummary("Send hint")
	postHint.SetDescription("Sends a hint to the hunters over the realtime channel.")
	postHint.AddReqStructure(HintRequest{})
	postHint.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	postHint.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postHint.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postHint.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(postHint)

	// POST /api/start
	postStart, _ := r.NewOperationContext(http.MethodPost, "/api/start")
	postStart.SetSummary("Start game")
	postStart.SetDescription("Starts the game from the lobby. Host only. Conflict once the game runs.")
	postStart.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusAccepted))
	postStart.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	postStart.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postStart)

	// POST /api/area
	postArea, _ := r.NewOperationContext(http.MethodPost, "/api/area")
	postArea.SetSummary("Set play area")
	postArea.SetDescription("Sets the play area circle from the lobby. Host only.")
	postArea.AddReqStructure(AreaRequest{})
	postArea.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	postArea.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postArea.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	postArea.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postArea)

	// GET /api/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/events")
	getEvents.SetSummary("SSE event stream")
	getEvents.SetDescription("Server-Sent Events named game, scene, chat, notice, navigate, connection and finished. Optional game query parameter must match the running game.")
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	getEvents.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getEvents)

	// GET /api/invite.png
	getInvite, _ := r.NewOperationContext(http.MethodGet, "/api/invite.png")
	getInvite.SetSummary("Invite QR code")
	getInvite.SetDescription("PNG QR code of the lobby link. Optional size query parameter in pixels.")
	getInvite.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("image/png"))
	getInvite.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getInvite)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
