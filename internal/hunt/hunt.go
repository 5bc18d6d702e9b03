// Package hunt holds the controllers behind the lobby and active-game
// screens. A controller owns one poller, one realtime connection, one map
// model and, for the active game, one location subscription, and turns
// everything that happens into Events for the UI.
package hunt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/pubhunt/internal/api"
	"github.com/playperu/pubhunt/internal/geo"
	"github.com/playperu/pubhunt/internal/location"
	"github.com/playperu/pubhunt/internal/mapview"
	"github.com/playperu/pubhunt/internal/poller"
	"github.com/playperu/pubhunt/internal/pubhunt"
	"github.com/playperu/pubhunt/internal/realtime"
)

// GameAPI is the part of the backend client the controllers use.
type GameAPI interface {
	Game(ctx context.Context, id int64) (pubhunt.Game, error)
	StartGame(ctx context.Context, id int64) (pubhunt.Game, error)
	EndGame(ctx context.Context, id int64) (pubhunt.Game, error)
	SetArea(ctx context.Context, id int64, center geo.Coordinate, radiusMeters float64) (pubhunt.Game, error)
	SubtractKitty(ctx context.Context, id int64, amount decimal.Decimal) (api.KittyResult, error)
	Messages(ctx context.Context, id int64) ([]pubhunt.ChatMessage, error)
	PostMessage(ctx context.Context, id int64, content string) (pubhunt.ChatMessage, error)
}

type Identity interface {
	User() pubhunt.User
	Token() string
}

// Channel is a game's realtime connection.
type Channel interface {
	SendLocation(ctx context.Context, pos geo.Coordinate) error
	SendHint(ctx context.Context, text string) error
	Close() error
	Done() <-chan struct{}
}

// Dialer opens the realtime channel of a game with onMessage attached.
type Dialer func(ctx context.Context, gameID int64, token string, onMessage func(realtime.Envelope)) (Channel, error)

// Sink receives UI events. The companion server's broker is one.
type Sink interface {
	Publish(topic string, ev Event)
}

type discard struct{}

func (discard) Publish(string, Event) {}

const (
	EventGame       = "game"
	EventScene      = "scene"
	EventChat       = "chat"
	EventNotice     = "notice"
	EventNavigate   = "navigate"
	EventConnection = "connection"
	EventFinished   = "finished"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notice is a toast or banner.
type Notice struct {
	ID    string `json:"id"`
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Topic is the event topic of a game.
func Topic(gameID int64) string {
	return fmt.Sprintf("game-%d", gameID)
}

type Config struct {
	API      GameAPI
	Identity Identity
	// Dial may be nil, in which case the view relies on polling alone.
	Dial Dialer
	// Tracker is used by the active view only.
	Tracker *location.Tracker
	Sink    Sink
	Cache   poller.Cache
	Logger  *slog.Logger

	PollInterval     time.Duration
	FailureThreshold int
	FinishGrace      time.Duration

	// OnNavigate is told when the view should give way to another.
	OnNavigate func(poller.View)
}

// view is the state shared by both controllers.
type view struct {
	cfg    Config
	gameID int64
	topic  string
	logger *slog.Logger
	poller *poller.Poller
	model  mapview.Model

	mu       sync.Mutex
	ctx      context.Context
	closed   bool
	game     pubhunt.Game
	hasGame  bool
	center   *geo.Coordinate
	self     *geo.Coordinate
	scene    *mapview.Scene
	messages []pubhunt.ChatMessage
	lost     bool
	conn     Channel
}

func newView(cfg Config, gameID int64, start poller.View) *view {
	if cfg.Sink == nil {
		cfg.Sink = discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	v := &view{
		cfg:    cfg,
		gameID: gameID,
		topic:  Topic(gameID),
		logger: cfg.Logger.With("game_id", gameID, "view", start.String()),
		ctx:    context.Background(),
	}
	v.poller = poller.New(cfg.API, gameID, poller.Options{
		Interval:         cfg.PollInterval,
		FailureThreshold: cfg.FailureThreshold,
		FinishGrace:      cfg.FinishGrace,
		View:             start,
		Cache:            cfg.Cache,
		Logger:           cfg.Logger,
		OnState:          v.onState,
		OnNavigate:       v.onNavigate,
		OnFinished:       v.onFinished,
		OnConnection:     v.onConnection,
	})
	return v
}

// run starts polling and the realtime channel, runs extra alongside them and
// blocks until ctx is done. Everything is stopped before it returns.
func (v *view) run(ctx context.Context, extra func(ctx context.Context) error, teardown func()) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return fmt.Errorf("view of game %d already ran", v.gameID)
	}
	v.ctx = ctx
	v.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		msgs, err := v.cfg.API.Messages(gctx, v.gameID)
		if err != nil {
			if gctx.Err() == nil {
				v.logger.Warn("loading chat", "error", err)
				v.notify(LevelWarning, api.Message(err))
			}
			return nil
		}
		v.mergeMessages(msgs...)
		return nil
	})

	if v.cfg.Dial != nil {
		conn, err := v.cfg.Dial(ctx, v.gameID, v.cfg.Identity.Token(), v.onEnvelope)
		if err != nil {
			v.logger.Warn("realtime channel unavailable", "error", err)
			v.notify(LevelWarning, "Live updates unavailable. Falling back to polling.")
		} else {
			v.mu.Lock()
			v.conn = conn
			v.mu.Unlock()
			g.Go(func() error {
				select {
				case <-gctx.Done():
				case <-conn.Done():
					if gctx.Err() == nil {
						v.logger.Warn("realtime channel dropped")
						v.notify(LevelWarning, "Live updates disconnected. Falling back to polling.")
					}
				}
				return nil
			})
		}
	}

	if extra != nil {
		g.Go(func() error { return extra(gctx) })
	}

	v.poller.Start(ctx)
	<-ctx.Done()

	v.mu.Lock()
	v.closed = true
	conn := v.conn
	v.mu.Unlock()

	// Helpers may still be starting subscriptions; let them finish first.
	err := g.Wait()
	if teardown != nil {
		teardown()
	}
	v.poller.Stop()
	if conn != nil {
		conn.Close()
		<-conn.Done()
	}
	v.logger.Info("view torn down")
	return err
}

func (v *view) publish(typ string, data any) {
	v.cfg.Sink.Publish(v.topic, Event{Type: typ, Data: data})
}

func (v *view) notify(level, text string) {
	v.publish(EventNotice, Notice{ID: uuid.NewString(), Level: level, Text: text})
}

// alive reports whether the view still accepts updates.
func (v *view) alive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.closed
}

func (v *view) onState(g pubhunt.Game) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.game, v.hasGame = g, true
	scene := v.renderLocked()
	v.mu.Unlock()

	v.publish(EventGame, g)
	v.publish(EventScene, scene)
}

// renderLocked rebuilds the scene. The previous center is the fallback when
// the game's own center cannot be read.
func (v *view) renderLocked() mapview.Scene {
	center := v.game.CenterOr(v.logger, v.center)
	v.center = &center

	var area []geo.Coordinate
	if v.game.CurrentArea != "" {
		if ring, err := geo.ParseRing(v.game.CurrentArea); err == nil && len(ring) > 2 {
			area = ring
		}
	}
	scene := v.model.Render(mapview.Input{
		Center:       center,
		RadiusMeters: v.game.Radius,
		Area:         area,
		Self:         v.self,
		SelfUserID:   v.cfg.Identity.User().ID,
		Players:      v.game.Players,
	})
	v.scene = &scene
	return scene
}

func (v *view) onNavigate(to poller.View) {
	if !v.alive() {
		return
	}
	v.logger.Info("navigating", "to", to.String())
	v.publish(EventNavigate, map[string]string{"view": to.String()})
	if v.cfg.OnNavigate != nil {
		v.cfg.OnNavigate(to)
	}
}

func (v *view) onFinished(g pubhunt.Game) {
	if !v.alive() {
		return
	}
	text := "Game over!"
	if g.WinnerTeam != nil {
		text = fmt.Sprintf("Game over! %s wins.", g.WinnerTeam.Name())
	}
	v.notify(LevelInfo, text)
	v.publish(EventFinished, g)
}

func (v *view) onConnection(lost bool) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.lost = lost
	v.mu.Unlock()

	v.publish(EventConnection, map[string]bool{"lost": lost})
	if lost {
		v.notify(LevelError, "Connection lost. Retrying...")
	} else {
		v.notify(LevelInfo, "Connection restored.")
	}
}

func (v *view) onEnvelope(env realtime.Envelope) {
	if !v.alive() {
		return
	}
	switch env.Type {
	case realtime.TypeChatMessage:
		msg, err := env.Chat()
		if err != nil {
			v.logger.Debug("bad chat message", "error", err)
			return
		}
		v.mergeMessages(msg)
	case realtime.TypeGameUpdate, realtime.TypeAreaUpdate, realtime.TypeGameFinished:
		// Broadcasts carry a partial game; fetch the full one now.
		v.poller.Refresh()
	case realtime.TypeError:
		v.logger.Warn("realtime error", "error", env.Err())
	default:
		v.logger.Debug("ignoring realtime message", "type", env.Type)
	}
}

// mergeMessages adds messages not seen before and publishes them.
func (v *view) mergeMessages(msgs ...pubhunt.ChatMessage) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	seen := make(map[int64]bool, len(v.messages))
	for _, m := range v.messages {
		seen[m.ID] = true
	}
	var added []pubhunt.ChatMessage
	for _, m := range msgs {
		if m.ID != 0 && seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		added = append(added, m)
	}
	v.messages = append(v.messages, added...)
	pubhunt.SortMessages(v.messages)
	v.mu.Unlock()

	for _, m := range added {
		v.publish(EventChat, m)
	}
}

// PostMessage sends a chat message and shows it without waiting for the
// broadcast.
func (v *view) PostMessage(ctx context.Context, content string) (pubhunt.ChatMessage, error) {
	msg, err := v.cfg.API.PostMessage(ctx, v.gameID, content)
	if err != nil {
		v.notify(LevelError, api.Message(err))
		return msg, err
	}
	v.mergeMessages(msg)
	return msg, nil
}

// Game returns the last known game state.
func (v *view) Game() (pubhunt.Game, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.game, v.hasGame
}

// Scene returns the last rendered map scene.
func (v *view) Scene() (mapview.Scene, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.scene == nil {
		return mapview.Scene{}, false
	}
	return *v.scene, true
}

func (v *view) Messages() []pubhunt.ChatMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]pubhunt.ChatMessage(nil), v.messages...)
}

func (v *view) ConnectionLost() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lost
}

func (v *view) GameID() int64 { return v.gameID }

func (v *view) channel() Channel {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn
}
