package hunt

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/playperu/pubhunt/internal/api"
	"github.com/playperu/pubhunt/internal/geo"
	"github.com/playperu/pubhunt/internal/location"
	"github.com/playperu/pubhunt/internal/mapview"
	"github.com/playperu/pubhunt/internal/poller"
	"github.com/playperu/pubhunt/internal/pubhunt"
	"github.com/playperu/pubhunt/internal/victory"
)

// ErrNoChannel is returned by actions that need the realtime channel.
var ErrNoChannel = errors.New("live updates are not connected")

// Active is the in-game screen: map, kitty, chat and the capture check.
type Active struct {
	*view
	tracker *location.Tracker
	checker *victory.Checker

	// ending is set while an EndGame triggered by capture is in flight.
	ending bool
}

func NewActive(cfg Config, gameID int64) *Active {
	a := &Active{view: newView(cfg, gameID, poller.ViewActive), tracker: cfg.Tracker}
	a.checker = victory.NewChecker(cfg.API, a.logger)
	return a
}

// Run blocks until ctx is done. Location tracking stops before it returns.
func (a *Active) Run(ctx context.Context) error {
	return a.run(ctx, a.track, a.stopTracking)
}

func (a *Active) track(ctx context.Context) error {
	if a.tracker == nil {
		return nil
	}
	a.tracker.OnError(func(err error) {
		a.notify(LevelWarning, "Location unavailable. Check location permissions.")
	})

	pos, err := a.tracker.AcquireOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.logger.Warn("initial location", "error", err)
		a.notify(LevelWarning, "Could not get your location. Tracking will keep trying.")
	} else {
		a.onLocation(pos)
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := a.tracker.StartWatching(a.onLocation); err != nil {
		a.notify(LevelError, "Location tracking unavailable.")
	}
	return nil
}

func (a *Active) stopTracking() {
	if a.tracker != nil {
		a.tracker.StopWatching()
	}
}

// onLocation moves the player's own marker, reports the position to the
// game and checks for a capture.
func (a *Active) onLocation(pos geo.Coordinate) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.self = &pos
	var scene *mapview.Scene
	if a.hasGame {
		s := a.renderLocked()
		scene = &s
	}
	game, conn, ctx := a.game, a.conn, a.ctx
	a.mu.Unlock()

	if scene != nil {
		a.publish(EventScene, *scene)
	}
	if conn != nil {
		if err := conn.SendLocation(ctx, pos); err != nil {
			a.logger.Debug("sending location", "error", err)
		}
	}
	a.checkCapture(ctx, game, pos)
}

func (a *Active) checkCapture(ctx context.Context, game pubhunt.Game, pos geo.Coordinate) {
	if game.Status != pubhunt.StatusActive {
		return
	}
	me, ok := game.PlayerByUser(a.cfg.Identity.User().ID)
	if !ok || game.IsHunted(me) {
		return
	}
	hunted, ok := game.Hunted()
	if !ok {
		return
	}
	target, ok := hunted.Position()
	if !ok || !victory.Found(pos, target) {
		return
	}

	a.mu.Lock()
	if a.ending {
		a.mu.Unlock()
		return
	}
	a.ending = true
	a.mu.Unlock()

	found, err := a.checker.Check(ctx, a.gameID, pos, target)
	if err != nil {
		a.mu.Lock()
		a.ending = false
		a.mu.Unlock()
		a.notify(LevelError, api.Message(err))
		return
	}
	if found {
		a.notify(LevelInfo, "You found "+hunted.Username()+"!")
		a.poller.Refresh()
	}
}

// SubtractKitty takes amount out of the kitty. When that empties it the game
// is over: once a game is loaded the game-over notice shows now and the
// redirect home follows after the grace period.
func (a *Active) SubtractKitty(ctx context.Context, amount decimal.Decimal) (api.KittyResult, error) {
	res, err := a.cfg.API.SubtractKitty(ctx, a.gameID, amount)
	if err != nil {
		a.notify(LevelError, api.Message(err))
		return res, err
	}
	if res.Message != "" {
		a.notify(LevelInfo, res.Message)
	}

	// Without a loaded game the refresh below brings in the final state.
	a.poller.Update(func(g *pubhunt.Game) {
		g.KittyTotal = res.KittyTotal
		if res.GameEnded {
			g.Status = pubhunt.StatusFinished
		}
	})
	a.poller.Refresh()
	return res, nil
}

// SendHint posts a hint for the hunters over the realtime channel.
func (a *Active) SendHint(ctx context.Context, text string) error {
	conn := a.channel()
	if conn == nil {
		a.notify(LevelError, "Hints need live updates, which are not connected.")
		return ErrNoChannel
	}
	if err := conn.SendHint(ctx, text); err != nil {
		a.notify(LevelError, "Could not send hint.")
		return err
	}
	return nil
}

// End ends the game. Host only.
func (a *Active) End(ctx context.Context) error {
	g, ok := a.Game()
	if !ok || !g.IsHost(a.cfg.Identity.User().ID) {
		a.notify(LevelError, "Only the host can do that.")
		return ErrNotHost
	}
	ended, err := a.cfg.API.EndGame(ctx, a.gameID)
	if err != nil {
		a.notify(LevelError, api.Message(err))
		return err
	}
	if ended.ID == a.gameID {
		a.poller.Observe(ended)
	}
	a.poller.Refresh()
	return nil
}

// LocationErr is the current location problem, if any.
func (a *Active) LocationErr() error {
	if a.tracker == nil {
		return nil
	}
	return a.tracker.Err()
}
