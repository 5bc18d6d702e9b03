// Package mapview turns game state into the data a map renderer needs:
// the geofence, the viewport and one marker per player.
package mapview

import (
	"sync"

	"github.com/playperu/pubhunt/internal/geo"
	"github.com/playperu/pubhunt/internal/pubhunt"
)

// Style is the visual treatment of a team.
type Style struct {
	Color  string `json:"color"`
	Marker string `json:"marker"`
}

var (
	huntedStyle = Style{Color: "#d32f2f", Marker: "fox"}
	teamStyles  = []Style{
		{Color: "#1976d2", Marker: "hound"},
		{Color: "#388e3c", Marker: "hound"},
		{Color: "#f57c00", Marker: "hound"},
	}
	// extra colors for teams beyond the third, cycled by team number.
	palette = []string{"#7b1fa2", "#00838f", "#5d4037", "#c2185b", "#455a64"}
)

// StyleFor returns the stable style of a team.
func StyleFor(team pubhunt.Team) Style {
	switch {
	case team.IsHunted():
		return huntedStyle
	case team >= pubhunt.TeamOne && int(team) <= len(teamStyles):
		return teamStyles[team-1]
	case team < 0:
		return Style{Color: palette[0], Marker: "hound"}
	default:
		return Style{Color: palette[(int(team)-len(teamStyles)-1)%len(palette)], Marker: "hound"}
	}
}

type Marker struct {
	PlayerID int64          `json:"player_id"`
	Username string         `json:"username"`
	Team     pubhunt.Team   `json:"team"`
	TeamName string         `json:"team_name"`
	Position geo.Coordinate `json:"position"`
	Style    Style          `json:"style"`
	Inside   bool           `json:"inside"`
	Self     bool           `json:"self"`
}

// Scene is one frame of the map.
type Scene struct {
	Center       geo.Coordinate   `json:"center"`
	RadiusMeters float64          `json:"radius_meters"`
	Bounds       geo.Bounds       `json:"bounds"`
	Area         []geo.Coordinate `json:"area,omitempty"`
	// Refit tells the renderer to move the viewport to Bounds.
	Refit   bool            `json:"refit"`
	Self    *geo.Coordinate `json:"self,omitempty"`
	Markers []Marker        `json:"markers"`
}

// Input is what a scene is built from. Self may be nil before the first fix.
type Input struct {
	Center       geo.Coordinate
	RadiusMeters float64
	Area         []geo.Coordinate
	Self         *geo.Coordinate
	SelfUserID   int64
	Players      []pubhunt.Player
}

// Model remembers the last geofence so it can tell when the viewport has to
// follow it. The local player moving never refits.
type Model struct {
	mu       sync.Mutex
	rendered bool
	center   geo.Coordinate
	radius   float64
}

func (m *Model) Render(in Input) Scene {
	m.mu.Lock()
	refit := !m.rendered || in.Center != m.center || in.RadiusMeters != m.radius
	m.rendered, m.center, m.radius = true, in.Center, in.RadiusMeters
	m.mu.Unlock()

	s := Scene{
		Center:       in.Center,
		RadiusMeters: in.RadiusMeters,
		Bounds:       geo.CircleBounds(in.Center, in.RadiusMeters),
		Area:         in.Area,
		Refit:        refit,
		Markers:      []Marker{},
	}
	if in.Self != nil && in.Self.Valid() {
		self := *in.Self
		s.Self = &self
	}

	for _, p := range in.Players {
		isSelf := in.SelfUserID != 0 && p.User.ID == in.SelfUserID
		pos, ok := p.Position()
		if isSelf && s.Self != nil {
			pos, ok = *s.Self, true
		}
		if !ok || !pos.Valid() {
			continue
		}
		s.Markers = append(s.Markers, Marker{
			PlayerID: p.ID,
			Username: p.Username(),
			Team:     p.Team,
			TeamName: p.DisplayTeam(),
			Position: pos,
			Style:    StyleFor(p.Team),
			Inside:   in.RadiusMeters > 0 && geo.Within(pos, in.Center, in.RadiusMeters),
			Self:     isSelf,
		})
	}
	return s
}

// Reset makes the next Render refit, as when a view is shown again.
func (m *Model) Reset() {
	m.mu.Lock()
	m.rendered = false
	m.mu.Unlock()
}
