// Package pubhunt defines the canonical game schema shared by every view.
// All server payloads are decoded into these types; nothing downstream
// guesses at alternative field names.
package pubhunt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playperu/pubhunt/internal/geo"
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusSetup    Status = "SETUP"
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

// UnmarshalJSON normalizes case and maps the backend's IN_PROGRESS alias.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}
	*s = ParseStatus(raw)
	return nil
}

func ParseStatus(raw string) Status {
	st := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if st == "IN_PROGRESS" {
		return StatusActive
	}
	return st
}

// Team is the numeric team assignment. Team 0 is the hunted player.
type Team int

const (
	TeamHunted Team = 0
	TeamOne    Team = 1
	TeamTwo    Team = 2
	TeamThree  Team = 3
)

func (t Team) Name() string {
	if t == TeamHunted {
		return "Hunted"
	}
	if t >= TeamOne && t <= TeamThree {
		return fmt.Sprintf("Hunters Team %d", int(t))
	}
	return fmt.Sprintf("Team %d", int(t))
}

func (t Team) IsHunted() bool { return t == TeamHunted }

type Player struct {
	ID   int64 `json:"id"`
	User User  `json:"user"`
	// FlatUsername mirrors user.username in some payloads.
	FlatUsername string     `json:"username,omitempty"`
	Team         Team       `json:"team"`
	TeamName     string     `json:"team_name,omitempty"`
	Location     *geo.Point `json:"location,omitempty"`
}

func (p Player) Username() string {
	if p.User.Username != "" {
		return p.User.Username
	}
	return p.FlatUsername
}

func (p Player) DisplayTeam() string {
	if p.TeamName != "" {
		return p.TeamName
	}
	return p.Team.Name()
}

// Position returns the player's last reported location, if any.
func (p Player) Position() (geo.Coordinate, bool) {
	if p.Location == nil {
		return geo.Coordinate{}, false
	}
	return p.Location.Coordinate()
}

type Game struct {
	ID             int64           `json:"id"`
	Status         Status          `json:"status"`
	Host           User            `json:"host"`
	Center         *geo.Point      `json:"center,omitempty"`
	CurrentArea    string          `json:"current_area,omitempty"`
	Radius         float64         `json:"radius"`
	KittyTotal     decimal.Decimal `json:"kitty_total"`
	KittyPerPlayer decimal.Decimal `json:"kitty_per_player"`
	Players        []Player        `json:"players"`
	HuntedTeam     Team            `json:"hunted_team"`
	WinnerTeam     *Team           `json:"winner_team,omitempty"`
}

// CenterOr resolves the geofence center. The explicit center wins over the
// area polygon; fallback is typically the previously known center.
func (g Game) CenterOr(logger *slog.Logger, fallback *geo.Coordinate) geo.Coordinate {
	if g.Center != nil {
		return geo.ParseCenter(logger, g.Center, fallback)
	}
	if g.CurrentArea != "" {
		return geo.ParseCenter(logger, g.CurrentArea, fallback)
	}
	return geo.ParseCenter(logger, nil, fallback)
}

// HasArea reports whether the host has chosen a play area.
func (g Game) HasArea() bool {
	return (g.Center != nil && len(g.Center.Coordinates) >= 2) || g.CurrentArea != ""
}

func (g Game) IsHost(userID int64) bool { return g.Host.ID == userID }

func (g Game) PlayerByUser(userID int64) (Player, bool) {
	for _, p := range g.Players {
		if p.User.ID == userID {
			return p, true
		}
	}
	return Player{}, false
}

// IsHunted reports whether p plays on the game's hunted team.
func (g Game) IsHunted(p Player) bool { return p.Team == g.HuntedTeam }

// Hunted returns the player on the hunted team.
func (g Game) Hunted() (Player, bool) {
	for _, p := range g.Players {
		if g.IsHunted(p) {
			return p, true
		}
	}
	return Player{}, false
}

// Equal compares two games by their canonical encoding.
func (g Game) Equal(o Game) bool {
	a, errA := json.Marshal(g)
	b, errB := json.Marshal(o)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

type ChatMessage struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// SortMessages orders messages by creation time, oldest first.
func SortMessages(msgs []ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
