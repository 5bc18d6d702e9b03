package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/pubhunt/internal/geo"
)

// watches runs one goroutine per subscription and stops it on ClearWatch.
type watches struct {
	mu      sync.Mutex
	cancels map[string]func()
}

func (w *watches) start(run func(stop <-chan struct{})) string {
	id := uuid.NewString()
	stop := make(chan struct{})
	done := make(chan struct{})

	w.mu.Lock()
	if w.cancels == nil {
		w.cancels = make(map[string]func())
	}
	w.cancels[id] = func() {
		close(stop)
		<-done
	}
	w.mu.Unlock()

	go func() {
		defer close(done)
		run(stop)
	}()
	return id
}

func (w *watches) clear(id string) {
	w.mu.Lock()
	cancel, ok := w.cancels[id]
	delete(w.cancels, id)
	w.mu.Unlock()
	if ok {
		cancel()
	}
}

// StaticProvider always reports the same position.
type StaticProvider struct {
	Position geo.Coordinate
	// Interval repeats the fix while watching; zero reports it once.
	Interval time.Duration

	w watches
}

func (p *StaticProvider) Current(ctx context.Context, _ bool) (*geo.Coordinate, error) {
	pos := p.Position
	return &pos, nil
}

func (p *StaticProvider) Watch(onPosition func(*geo.Coordinate), _ func(error)) (string, error) {
	return p.w.start(func(stop <-chan struct{}) {
		pos := p.Position
		onPosition(&pos)
		if p.Interval <= 0 {
			return
		}
		tick := time.NewTicker(p.Interval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				pos := p.Position
				onPosition(&pos)
			}
		}
	}), nil
}

func (p *StaticProvider) ClearWatch(id string) { p.w.clear(id) }

// DeniedProvider behaves like a device whose user refused location access.
type DeniedProvider struct{}

func (DeniedProvider) Current(context.Context, bool) (*geo.Coordinate, error) {
	return nil, ErrPermissionDenied
}

func (DeniedProvider) Watch(func(*geo.Coordinate), func(error)) (string, error) {
	return "", ErrPermissionDenied
}

func (DeniedProvider) ClearWatch(string) {}

// ReplayProvider walks a recorded track, one point per interval, and stays
// on the last point when the track ends.
type ReplayProvider struct {
	track    []geo.Coordinate
	interval time.Duration

	mu  sync.Mutex
	pos int
	w   watches
}

func NewReplayProvider(track []geo.Coordinate, interval time.Duration) (*ReplayProvider, error) {
	if len(track) == 0 {
		return nil, errors.New("empty track")
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ReplayProvider{track: track, interval: interval}, nil
}

func (p *ReplayProvider) Current(ctx context.Context, _ bool) (*geo.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.track[p.pos]
	return &pos, nil
}

func (p *ReplayProvider) Watch(onPosition func(*geo.Coordinate), _ func(error)) (string, error) {
	return p.w.start(func(stop <-chan struct{}) {
		tick := time.NewTicker(p.interval)
		defer tick.Stop()
		for {
			pos, more := p.advance()
			onPosition(&pos)
			if !more {
				return
			}
			select {
			case <-stop:
				return
			case <-tick.C:
			}
		}
	}), nil
}

func (p *ReplayProvider) ClearWatch(id string) { p.w.clear(id) }

func (p *ReplayProvider) advance() (geo.Coordinate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.track[p.pos]
	if p.pos < len(p.track)-1 {
		p.pos++
		return pos, true
	}
	return pos, false
}

// ParseTrack reads a GeoJSON LineString, either bare or wrapped in a Feature
// or FeatureCollection (first LineString wins).
func ParseTrack(data []byte) ([]geo.Coordinate, error) {
	var doc struct {
		Type        string          `json:"type"`
		Coordinates [][]float64     `json:"coordinates"`
		Geometry    json.RawMessage `json:"geometry"`
		Features    []struct {
			Geometry json.RawMessage `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding track: %w", err)
	}

	switch doc.Type {
	case "LineString":
		return lineString(doc.Coordinates)
	case "Feature":
		return ParseTrack(doc.Geometry)
	case "FeatureCollection":
		for _, f := range doc.Features {
			if track, err := ParseTrack(f.Geometry); err == nil {
				return track, nil
			}
		}
		return nil, errors.New("no LineString feature in track")
	default:
		return nil, fmt.Errorf("unsupported track geometry %q", doc.Type)
	}
}

func lineString(coords [][]float64) ([]geo.Coordinate, error) {
	if len(coords) == 0 {
		return nil, errors.New("empty LineString")
	}
	track := make([]geo.Coordinate, 0, len(coords))
	for i, c := range coords {
		if len(c) < 2 {
			return nil, fmt.Errorf("position %d has %d values", i, len(c))
		}
		pos := geo.Coordinate{Lat: c[1], Lon: c[0]}
		if !pos.Valid() {
			return nil, fmt.Errorf("position %d out of range: %s", i, pos)
		}
		track = append(track, pos)
	}
	return track, nil
}
