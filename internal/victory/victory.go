// Package victory decides whether a pursuer has found the hunted player.
package victory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/playperu/pubhunt/internal/geo"
	"github.com/playperu/pubhunt/internal/pubhunt"
)

// ThresholdMeters is the capture distance. It is not configurable.
const ThresholdMeters = 20.0

// GameEnder ends a game on the server.
type GameEnder interface {
	EndGame(ctx context.Context, gameID int64) (pubhunt.Game, error)
}

type Checker struct {
	ender  GameEnder
	logger *slog.Logger
}

func NewChecker(ender GameEnder, logger *slog.Logger) *Checker {
	return &Checker{ender: ender, logger: logger}
}

// Found reports whether pursuer is within capture distance of target.
func Found(pursuer, target geo.Coordinate) bool {
	return inReach(geo.DistanceMeters(pursuer, target))
}

// inReach holds the boundary: exactly ThresholdMeters still counts.
func inReach(d float64) bool { return d <= ThresholdMeters }

// Check ends the game and returns true when pursuer is within capture
// distance of target. Otherwise it returns false and touches nothing.
func (c *Checker) Check(ctx context.Context, gameID int64, pursuer, target geo.Coordinate) (bool, error) {
	d := geo.DistanceMeters(pursuer, target)
	if !inReach(d) {
		return false, nil
	}

	c.logger.Info("hunted player found", "game_id", gameID, "distance_m", d)
	if _, err := c.ender.EndGame(ctx, gameID); err != nil {
		return true, fmt.Errorf("ending game %d: %w", gameID, err)
	}
	return true, nil
}
