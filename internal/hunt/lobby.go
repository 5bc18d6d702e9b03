package hunt

import (
	"context"
	"errors"

	"github.com/playperu/pubhunt/internal/api"
	"github.com/playperu/pubhunt/internal/geo"
	"github.com/playperu/pubhunt/internal/poller"
	"github.com/playperu/pubhunt/internal/pubhunt"
)

var ErrNotHost = errors.New("only the host can do that")

// Lobby is the waiting room. It moves players to the active view when the
// host starts the game.
type Lobby struct {
	*view
}

func NewLobby(cfg Config, gameID int64) *Lobby {
	return &Lobby{view: newView(cfg, gameID, poller.ViewLobby)}
}

// Run blocks until ctx is done.
func (l *Lobby) Run(ctx context.Context) error {
	return l.run(ctx, nil, nil)
}

// Start starts the game. Host only.
func (l *Lobby) Start(ctx context.Context) error {
	if err := l.requireHost(); err != nil {
		return err
	}
	g, err := l.cfg.API.StartGame(ctx, l.gameID)
	if err != nil {
		l.notify(LevelError, api.Message(err))
		return err
	}
	l.reconcile(g)
	return nil
}

// SetArea chooses the play area. Host only.
func (l *Lobby) SetArea(ctx context.Context, center geo.Coordinate, radiusMeters float64) error {
	if err := l.requireHost(); err != nil {
		return err
	}
	g, err := l.cfg.API.SetArea(ctx, l.gameID, center, radiusMeters)
	if err != nil {
		l.notify(LevelError, api.Message(err))
		return err
	}
	l.notify(LevelInfo, "Play area set.")
	l.reconcile(g)
	return nil
}

// Players returns the players grouped by team, hunted first.
func (l *Lobby) Players() map[pubhunt.Team][]pubhunt.Player {
	g, _ := l.Game()
	teams := make(map[pubhunt.Team][]pubhunt.Player)
	for _, p := range g.Players {
		teams[p.Team] = append(teams[p.Team], p)
	}
	return teams
}

func (l *Lobby) requireHost() error {
	g, ok := l.Game()
	if ok && g.IsHost(l.cfg.Identity.User().ID) {
		return nil
	}
	l.notify(LevelError, "Only the host can do that.")
	return ErrNotHost
}

// reconcile applies a game returned by an action, or fetches one when the
// server answered with a bare status.
func (l *Lobby) reconcile(g pubhunt.Game) {
	if g.ID == l.gameID {
		l.poller.Observe(g)
		return
	}
	l.poller.Refresh()
}
