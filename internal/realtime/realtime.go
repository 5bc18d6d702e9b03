// Package realtime is the client side of a game's WebSocket channel.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/playperu/pubhunt/internal/geo"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var ErrClosed = errors.New("realtime: connection closed")

type Options struct {
	AuthScheme       string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
	// OnMessage is registered before the reader starts, so it sees the
	// messages the server sends right after the handshake.
	OnMessage func(Envelope)
}

type Conn struct {
	ws     *websocket.Conn
	gameID int64
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers []func(Envelope)
	closed   bool

	done chan struct{}
}

// URL returns the channel address of a game: {base}/game/{id}/.
func URL(base string, gameID int64, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + fmt.Sprintf("/game/%d/", gameID))
	if err != nil {
		return "", fmt.Errorf("parsing websocket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial connects to the game's channel. The token travels both in the
// Authorization header and as a query parameter, since browsers cannot set
// headers on WebSocket upgrades and the server accepts either.
func Dial(ctx context.Context, base string, gameID int64, token string, opts Options) (*Conn, error) {
	if opts.AuthScheme == "" {
		opts.AuthScheme = "Token"
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	addr, err := URL(base, gameID, token)
	if err != nil {
		return nil, err
	}
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", opts.AuthScheme+" "+token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  opts.HandshakeTimeout,
		EnableCompression: true,
		Proxy:             http.ProxyFromEnvironment,
	}
	ws, resp, err := dialer.DialContext(ctx, addr, hdr)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("dialing game %d channel: %s: %w", gameID, resp.Status, err)
		}
		return nil, fmt.Errorf("dialing game %d channel: %w", gameID, err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Conn{
		ws:     ws,
		gameID: gameID,
		logger: opts.Logger.With("game_id", gameID),
		done:   make(chan struct{}),
	}
	if opts.OnMessage != nil {
		c.handlers = append(c.handlers, opts.OnMessage)
	}
	go c.read()
	c.logger.Info("realtime channel connected")
	return c, nil
}

// OnMessage registers fn for every inbound envelope. Handlers run on the
// reader goroutine in registration order.
func (c *Conn) OnMessage(fn func(Envelope)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// Done is closed when the reader exits, after Close or a network error.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) read() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("realtime read failed", "error", err)
			}
			return
		}
		env, err := Decode(data)
		if err != nil {
			c.logger.Debug("dropping undecodable message", "error", err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		handlers := append(([]func(Envelope))(nil), c.handlers...)
		c.mu.Unlock()

		for _, h := range handlers {
			h(env)
		}
	}
}

type locationUpdate struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type hint struct {
	Type string `json:"type"`
	Hint string `json:"hint"`
}

// SendLocation reports the player's position to the game.
func (c *Conn) SendLocation(ctx context.Context, pos geo.Coordinate) error {
	return c.send(ctx, locationUpdate{Type: TypeUpdateLocation, Latitude: pos.Lat, Longitude: pos.Lon})
}

// SendHint posts a hint. The server only accepts hints from the hunted player.
func (c *Conn) SendHint(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("realtime: empty hint")
	}
	return c.send(ctx, hint{Type: TypeAddHint, Hint: text})
}

func (c *Conn) send(ctx context.Context, v any) error {
	if c.isClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Close ends the connection. Calling it again is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.ws.Close()
	c.logger.Info("realtime channel closed")
	return err
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
