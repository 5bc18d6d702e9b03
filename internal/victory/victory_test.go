package victory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/playperu/pubhunt/internal/geo"
	"github.com/playperu/pubhunt/internal/pubhunt"
)

type fakeEnder struct {
	calls []int64
	err   error
}

func (f *fakeEnder) EndGame(_ context.Context, gameID int64) (pubhunt.Game, error) {
	f.calls = append(f.calls, gameID)
	return pubhunt.Game{ID: gameID, Status: pubhunt.StatusFinished}, f.err
}

// north returns the point d meters due north of c.
func north(c geo.Coordinate, d float64) geo.Coordinate {
	return geo.Coordinate{Lat: c.Lat + d/(geo.EarthRadiusMeters*math.Pi/180), Lon: c.Lon}
}

func TestCheck(t *testing.T) {
	target := geo.Coordinate{Lat: 53.3498, Lon: -6.2603}

	tests := []struct {
		name      string
		pursuer   geo.Coordinate
		wantFound bool
	}{
		{"same spot", target, true},
		{"ten meters", north(target, 10), true},
		{"just inside", north(target, 19.99), true},
		{"twenty one meters", north(target, 21), false},
		{"across town", geo.Coordinate{Lat: 53.3, Lon: -6.3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ender := &fakeEnder{}
			c := NewChecker(ender, slog.New(slog.NewTextHandler(io.Discard, nil)))

			found, err := c.Check(context.Background(), 42, tt.pursuer, target)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if found != tt.wantFound {
				t.Errorf("found = %v, want %v", found, tt.wantFound)
			}

			wantCalls := 0
			if tt.wantFound {
				wantCalls = 1
			}
			if len(ender.calls) != wantCalls {
				t.Fatalf("EndGame called %d times, want %d", len(ender.calls), wantCalls)
			}
			if wantCalls == 1 && ender.calls[0] != 42 {
				t.Errorf("EndGame game id = %d, want 42", ender.calls[0])
			}
		})
	}
}

func TestCheckReportsEndFailure(t *testing.T) {
	target := geo.Coordinate{Lat: 53.3498, Lon: -6.2603}
	ender := &fakeEnder{err: errors.New("boom")}
	c := NewChecker(ender, slog.New(slog.NewTextHandler(io.Discard, nil)))

	found, err := c.Check(context.Background(), 1, target, target)
	if !found {
		t.Error("found = false, want true")
	}
	if err == nil {
		t.Error("expected error from EndGame to surface")
	}
}

func TestFound(t *testing.T) {
	a := geo.Coordinate{Lat: 53.3498, Lon: -6.2603}
	if !Found(a, a) {
		t.Error("Found(a, a) = false")
	}
	if Found(a, north(a, 21)) {
		t.Error("Found at 21 m = true")
	}
}

func TestThresholdIsInclusive(t *testing.T) {
	tests := []struct {
		d    float64
		want bool
	}{
		{0, true},
		{math.Nextafter(ThresholdMeters, 0), true},
		{ThresholdMeters, true},
		{math.Nextafter(ThresholdMeters, math.Inf(1)), false},
	}
	for _, tt := range tests {
		if got := inReach(tt.d); got != tt.want {
			t.Errorf("inReach(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}
