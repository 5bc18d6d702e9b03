// Package location tracks the device's position for the duration of a view.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/pubhunt/internal/geo"
)

var (
	// ErrLocationUnavailable wraps every failure to obtain a position.
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrPermissionDenied    = errors.New("location permission denied")
)

// Provider is a source of device positions. Position callbacks may receive
// nil when the source reports an update without coordinates.
type Provider interface {
	Current(ctx context.Context, highAccuracy bool) (*geo.Coordinate, error)
	Watch(onPosition func(*geo.Coordinate), onError func(error)) (string, error)
	ClearWatch(id string)
}

type Tracker struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	watchID  string
	watching bool
	gen      uint64
	err      error
	onError  func(error)
}

// New returns a tracker over p. timeout bounds AcquireOnce.
func New(p Provider, timeout time.Duration, logger *slog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Tracker{provider: p, timeout: timeout, logger: logger}
}

// OnError registers fn to be told about failures while watching.
func (t *Tracker) OnError(fn func(error)) {
	t.mu.Lock()
	t.onError = fn
	t.mu.Unlock()
}

// AcquireOnce asks for a single high accuracy fix.
func (t *Tracker) AcquireOnce(ctx context.Context) (geo.Coordinate, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	pos, err := t.provider.Current(ctx, true)
	switch {
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	case pos == nil || !pos.Valid():
		err = fmt.Errorf("%w: no position reported", ErrLocationUnavailable)
	}
	if err != nil {
		t.setErr(err)
		return geo.Coordinate{}, err
	}
	t.setErr(nil)
	return *pos, nil
}

// StartWatching subscribes cb to position updates, replacing any previous
// subscription. Nil and out of range positions are dropped.
func (t *Tracker) StartWatching(cb func(geo.Coordinate)) error {
	t.StopWatching()

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	onPosition := func(pos *geo.Coordinate) {
		if pos == nil || !pos.Valid() {
			t.logger.Debug("ignoring empty position update")
			return
		}
		if !t.current(gen) {
			return
		}
		t.setErr(nil)
		cb(*pos)
	}
	onError := func(err error) {
		if !t.current(gen) {
			return
		}
		err = fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
		t.setErr(err)
		t.logger.Warn("location watch error", "error", err)

		t.mu.Lock()
		fn := t.onError
		t.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	}

	id, err := t.provider.Watch(onPosition, onError)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
		t.setErr(err)
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		// Stopped while the provider was starting.
		t.provider.ClearWatch(id)
		return nil
	}
	t.watchID, t.watching = id, true
	return nil
}

// StopWatching cancels the active subscription. It is a no-op when idle.
func (t *Tracker) StopWatching() {
	t.mu.Lock()
	t.gen++
	if !t.watching {
		t.mu.Unlock()
		return
	}
	id := t.watchID
	t.watchID, t.watching = "", false
	t.mu.Unlock()

	t.provider.ClearWatch(id)
}

func (t *Tracker) Watching() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watching
}

// Err returns the last location error, cleared by the next good update.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tracker) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *Tracker) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen == gen
}
