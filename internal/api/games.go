package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/playperu/pubhunt/internal/geo"
	"github.com/playperu/pubhunt/internal/pubhunt"
)

var errEmptyMessage = errors.New("message is empty")

// NewGame is the body of a create request. The center travels as a GeoJSON
// point.
type NewGame struct {
	KittyValue decimal.Decimal `json:"kitty_value"`
	Center     *geo.Point      `json:"center,omitempty"`
	Radius     float64         `json:"radius,omitempty"`
}

// GameUpdate carries the fields of a PUT; nil fields are left unchanged.
type GameUpdate struct {
	Status     *pubhunt.Status  `json:"status,omitempty"`
	Center     *geo.Point       `json:"center,omitempty"`
	Radius     *float64         `json:"radius,omitempty"`
	KittyTotal *decimal.Decimal `json:"kitty_total,omitempty"`
}

type areaRequest struct {
	Center geo.Point `json:"center"`
	Radius float64   `json:"radius"`
}

// KittyResult is the response to a kitty subtraction.
type KittyResult struct {
	Message    string          `json:"message"`
	GameEnded  bool            `json:"game_ended"`
	KittyTotal decimal.Decimal `json:"kitty_total"`
}

func gamePath(id int64, action string) string {
	if action == "" {
		return fmt.Sprintf("/games/%d/", id)
	}
	return fmt.Sprintf("/games/%d/%s/", id, action)
}

func (c *Client) ListGames(ctx context.Context) ([]pubhunt.Game, error) {
	var games []pubhunt.Game
	err := c.do(ctx, call{op: opListGames, method: http.MethodGet, path: "/games/", auth: true}, &games)
	return games, err
}

func (c *Client) CreateGame(ctx context.Context, g NewGame) (pubhunt.Game, error) {
	var out pubhunt.Game
	err := c.do(ctx, call{op: opCreateGame, method: http.MethodPost, path: "/games/", body: g, auth: true}, &out)
	return out, err
}

func (c *Client) Game(ctx context.Context, id int64) (pubhunt.Game, error) {
	var out pubhunt.Game
	err := c.do(ctx, call{op: opGame, method: http.MethodGet, path: gamePath(id, ""), auth: true}, &out)
	return out, err
}

func (c *Client) UpdateGame(ctx context.Context, id int64, u GameUpdate) (pubhunt.Game, error) {
	var out pubhunt.Game
	err := c.do(ctx, call{op: opUpdateGame, method: http.MethodPut, path: gamePath(id, ""), body: u, auth: true}, &out)
	return out, err
}

// JoinGame, StartGame and EndGame return the game when the server answers
// with one. Status-only answers decode to a Game with just Status set.
func (c *Client) JoinGame(ctx context.Context, id int64) (pubhunt.Game, error) {
	return c.gameAction(ctx, opJoinGame, id, "join")
}

func (c *Client) StartGame(ctx context.Context, id int64) (pubhunt.Game, error) {
	return c.gameAction(ctx, opStartGame, id, "start")
}

func (c *Client) EndGame(ctx context.Context, id int64) (pubhunt.Game, error) {
	return c.gameAction(ctx, opEndGame, id, "end")
}

func (c *Client) gameAction(ctx context.Context, op string, id int64, action string) (pubhunt.Game, error) {
	var out pubhunt.Game
	err := c.do(ctx, call{op: op, method: http.MethodPost, path: gamePath(id, action), auth: true}, &out)
	return out, err
}

// SetArea sets the geofence of a game.
func (c *Client) SetArea(ctx context.Context, id int64, center geo.Coordinate, radiusMeters float64) (pubhunt.Game, error) {
	if !center.Valid() {
		return pubhunt.Game{}, fmt.Errorf("%s: invalid center %s", opSetArea, center)
	}
	if radiusMeters <= 0 {
		return pubhunt.Game{}, fmt.Errorf("%s: radius must be positive, got %g", opSetArea, radiusMeters)
	}
	body := areaRequest{Center: geo.NewPoint(center), Radius: radiusMeters}
	var out pubhunt.Game
	err := c.do(ctx, call{op: opSetArea, method: http.MethodPost, path: gamePath(id, "set_area"), body: body, auth: true}, &out)
	return out, err
}

func (c *Client) SubtractKitty(ctx context.Context, id int64, amount decimal.Decimal) (KittyResult, error) {
	if !amount.IsPositive() {
		return KittyResult{}, fmt.Errorf("%s: amount must be positive, got %s", opSubtractKitty, amount)
	}
	body := struct {
		Amount decimal.Decimal `json:"amount"`
	}{amount}
	var out KittyResult
	err := c.do(ctx, call{op: opSubtractKitty, method: http.MethodPost, path: gamePath(id, "subtract-kitty"), body: body, auth: true}, &out)
	return out, err
}

// Messages returns the game's chat, oldest first.
func (c *Client) Messages(ctx context.Context, id int64) ([]pubhunt.ChatMessage, error) {
	var msgs []pubhunt.ChatMessage
	if err := c.do(ctx, call{op: opMessages, method: http.MethodGet, path: gamePath(id, "messages"), auth: true}, &msgs); err != nil {
		return nil, err
	}
	pubhunt.SortMessages(msgs)
	return msgs, nil
}

func (c *Client) PostMessage(ctx context.Context, id int64, content string) (pubhunt.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return pubhunt.ChatMessage{}, fmt.Errorf("%s: %w", opPostMessage, errEmptyMessage)
	}
	body := struct {
		Content string `json:"content"`
	}{content}
	var out pubhunt.ChatMessage
	err := c.do(ctx, call{op: opPostMessage, method: http.MethodPost, path: gamePath(id, "messages"), body: body, auth: true}, &out)
	return out, err
}
