// Package poller keeps a view's copy of a game in sync with the server by
// re-fetching it on a fixed interval.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/pubhunt/internal/pubhunt"
)

// View is the screen the consuming controller is showing.
type View int

const (
	ViewHome View = iota
	ViewLobby
	ViewActive
)

func (v View) String() string {
	switch v {
	case ViewLobby:
		return "lobby"
	case ViewActive:
		return "active"
	default:
		return "home"
	}
}

type Fetcher interface {
	Game(ctx context.Context, id int64) (pubhunt.Game, error)
}

// Cache stores the last known state so a view can paint before the first
// fetch completes.
type Cache interface {
	LoadGame(ctx context.Context, id int64) (pubhunt.Game, error)
	SaveGame(ctx context.Context, g pubhunt.Game) error
}

// Options configures a Poller. Callbacks run on the poller's goroutine, one
// at a time, and must not call Stop.
type Options struct {
	Interval         time.Duration
	FailureThreshold int
	FinishGrace      time.Duration
	View             View
	Cache            Cache
	Logger           *slog.Logger

	OnState      func(pubhunt.Game)
	OnNavigate   func(View)
	OnFinished   func(pubhunt.Game)
	OnConnection func(lost bool)
}

type Poller struct {
	fetch  Fetcher
	gameID int64
	opts   Options

	// procMu serializes applying states and running callbacks.
	procMu   sync.Mutex
	status   pubhunt.Status
	failures int
	stopped  bool
	started  bool
	redirect *time.Timer
	cancel   context.CancelFunc

	// mu guards the fields readable from callbacks.
	mu    sync.Mutex
	state pubhunt.Game
	has   bool
	view  View
	lost  bool

	refresh chan struct{}
	wg      sync.WaitGroup
}

func New(f Fetcher, gameID int64, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 3
	}
	if opts.FinishGrace <= 0 {
		opts.FinishGrace = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		fetch:   f,
		gameID:  gameID,
		opts:    opts,
		view:    opts.View,
		refresh: make(chan struct{}, 1),
	}
}

// Start primes the state from the cache and begins polling. The first fetch
// happens immediately.
func (p *Poller) Start(ctx context.Context) {
	p.procMu.Lock()
	if p.started || p.stopped {
		p.procMu.Unlock()
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.procMu.Unlock()

	p.prime(ctx)

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop ends polling and cancels a pending redirect. It waits for the polling
// goroutine, so no callback runs after it returns.
func (p *Poller) Stop() {
	p.procMu.Lock()
	p.stopped = true
	if p.redirect != nil {
		p.redirect.Stop()
		p.redirect = nil
	}
	cancel := p.cancel
	p.procMu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Refresh asks for a fetch now instead of at the next tick.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Observe feeds a state obtained elsewhere, such as an action response,
// through the same change detection as a fetch.
func (p *Poller) Observe(g pubhunt.Game) {
	p.procMu.Lock()
	defer p.procMu.Unlock()
	if p.stopped {
		return
	}
	p.apply(context.Background(), g)
}

// Update edits the last known game in place and applies the result. It
// reports false, changing nothing, when no state has been loaded yet.
func (p *Poller) Update(fn func(g *pubhunt.Game)) bool {
	p.procMu.Lock()
	defer p.procMu.Unlock()
	if p.stopped {
		return false
	}
	p.mu.Lock()
	g, ok := p.state, p.has
	p.mu.Unlock()
	if !ok {
		return false
	}
	g.Players = append([]pubhunt.Player(nil), g.Players...)
	fn(&g)
	p.apply(context.Background(), g)
	return true
}

func (p *Poller) SetView(v View) {
	p.mu.Lock()
	p.view = v
	p.mu.Unlock()
}

func (p *Poller) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// State returns the last known game, if any.
func (p *Poller) State() (pubhunt.Game, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.has
}

func (p *Poller) ConnectionLost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lost
}

func (p *Poller) prime(ctx context.Context) {
	if p.opts.Cache == nil {
		return
	}
	g, err := p.opts.Cache.LoadGame(ctx, p.gameID)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.state, p.has = g, true
	p.mu.Unlock()
	if p.opts.OnState != nil {
		p.opts.OnState(g)
	}
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	p.tick(ctx)

	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.tick(ctx)
		case <-p.refresh:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	g, err := p.fetch.Game(ctx, p.gameID)
	if ctx.Err() != nil {
		return
	}

	p.procMu.Lock()
	defer p.procMu.Unlock()
	if p.stopped {
		return
	}

	if err != nil {
		p.failures++
		p.opts.Logger.Warn("poll failed", "game_id", p.gameID, "failures", p.failures, "error", err)
		if p.failures == p.opts.FailureThreshold {
			p.setLost(true)
		}
		return
	}
	p.failures = 0
	if p.ConnectionLost() {
		p.setLost(false)
	}
	p.apply(ctx, g)
}

func (p *Poller) setLost(lost bool) {
	p.mu.Lock()
	p.lost = lost
	p.mu.Unlock()
	p.opts.Logger.Info("connection state changed", "game_id", p.gameID, "lost", lost)
	if p.opts.OnConnection != nil {
		p.opts.OnConnection(lost)
	}
}

// apply runs with procMu held.
func (p *Poller) apply(ctx context.Context, g pubhunt.Game) {
	p.mu.Lock()
	changed := !p.has || !p.state.Equal(g)
	if changed {
		p.state, p.has = g, true
	}
	view := p.view
	p.mu.Unlock()

	if changed {
		if p.opts.Cache != nil {
			if err := p.opts.Cache.SaveGame(ctx, g); err != nil {
				p.opts.Logger.Warn("caching game state", "game_id", g.ID, "error", err)
			}
		}
		if p.opts.OnState != nil {
			p.opts.OnState(g)
		}
	}

	if g.Status == p.status {
		return
	}
	prev := p.status
	p.status = g.Status
	p.opts.Logger.Info("game status changed", "game_id", p.gameID, "from", prev, "to", g.Status)

	switch g.Status {
	case pubhunt.StatusActive:
		if view == ViewLobby {
			p.SetView(ViewActive)
			p.navigate(ViewActive)
		}
	case pubhunt.StatusFinished:
		if p.opts.OnFinished != nil {
			p.opts.OnFinished(g)
		}
		if p.redirect == nil {
			p.redirect = time.AfterFunc(p.opts.FinishGrace, p.goHome)
		}
	}
}

func (p *Poller) goHome() {
	p.procMu.Lock()
	defer p.procMu.Unlock()
	if p.stopped {
		return
	}
	p.redirect = nil
	p.SetView(ViewHome)
	p.navigate(ViewHome)
}

func (p *Poller) navigate(v View) {
	if p.opts.OnNavigate != nil {
		p.opts.OnNavigate(v)
	}
}
