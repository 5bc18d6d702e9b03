package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/playperu/pubhunt/internal/pubhunt"
)

// fakeServer is a game whose status the test flips, with optional failures.
type fakeServer struct {
	mu    sync.Mutex
	game  pubhunt.Game
	fail  bool
	calls atomic.Int32
}

func (f *fakeServer) Game(ctx context.Context, id int64) (pubhunt.Game, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return pubhunt.Game{}, errors.New("connection refused")
	}
	return f.game, nil
}

func (f *fakeServer) set(fn func(g *pubhunt.Game)) {
	f.mu.Lock()
	fn(&f.game)
	f.mu.Unlock()
}

func (f *fakeServer) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

type events struct {
	states     []pubhunt.Game
	navigation []View
	finished   int
	connection []bool
}

// recorder collects callback invocations.
type recorder struct {
	mu sync.Mutex
	events
}

func (r *recorder) options(base Options) Options {
	base.OnState = func(g pubhunt.Game) {
		r.mu.Lock()
		r.states = append(r.states, g)
		r.mu.Unlock()
	}
	base.OnNavigate = func(v View) {
		r.mu.Lock()
		r.navigation = append(r.navigation, v)
		r.mu.Unlock()
	}
	base.OnFinished = func(pubhunt.Game) {
		r.mu.Lock()
		r.finished++
		r.mu.Unlock()
	}
	base.OnConnection = func(lost bool) {
		r.mu.Lock()
		r.connection = append(r.connection, lost)
		r.mu.Unlock()
	}
	return base
}

func (r *recorder) snapshot() events {
	r.mu.Lock()
	defer r.mu.Unlock()
	return events{
		states:     append([]pubhunt.Game(nil), r.states...),
		navigation: append([]View(nil), r.navigation...),
		finished:   r.finished,
		connection: append([]bool(nil), r.connection...),
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNotifiesOnlyOnChange(t *testing.T) {
	srv := &fakeServer{game: pubhunt.Game{ID: 1, Status: pubhunt.StatusWaiting}}
	rec := &recorder{}
	p := New(srv, 1, rec.options(Options{Interval: 5 * time.Millisecond}))
	p.Start(context.Background())
	defer p.Stop()

	eventually(t, "several polls", func() bool { return srv.calls.Load() >= 5 })
	if n := len(rec.snapshot().states); n != 1 {
		t.Fatalf("OnState calls = %d after unchanged polls, want 1", n)
	}

	srv.set(func(g *pubhunt.Game) { g.Players = append(g.Players, pubhunt.Player{ID: 2, Team: pubhunt.TeamOne}) })
	eventually(t, "second state", func() bool { return len(rec.snapshot().states) == 2 })

	got, ok := p.State()
	if !ok || len(got.Players) != 1 {
		t.Errorf("State() = %+v, %v", got, ok)
	}
}

func TestUpdateNeedsState(t *testing.T) {
	srv := &fakeServer{game: pubhunt.Game{ID: 1, Status: pubhunt.StatusActive}}
	rec := &recorder{}
	p := New(srv, 1, rec.options(Options{Interval: time.Hour}))

	if p.Update(func(g *pubhunt.Game) { g.Status = pubhunt.StatusFinished }) {
		t.Fatal("Update applied without a loaded state")
	}
	if _, ok := p.State(); ok {
		t.Fatal("Update stored a state")
	}

	p.Start(context.Background())
	defer p.Stop()
	eventually(t, "first fetch", func() bool { _, ok := p.State(); return ok })

	if !p.Update(func(g *pubhunt.Game) { g.Status = pubhunt.StatusFinished }) {
		t.Fatal("Update refused a loaded state")
	}
	if got, _ := p.State(); got.ID != 1 || got.Status != pubhunt.StatusFinished {
		t.Errorf("State() = %+v", got)
	}
	if n := rec.snapshot().finished; n != 1 {
		t.Errorf("OnFinished calls = %d, want 1", n)
	}
}

func TestTwoPollersNavigateOnce(t *testing.T) {
	srv := &fakeServer{game: pubhunt.Game{ID: 7, Status: pubhunt.StatusWaiting}}
	interval := 20 * time.Millisecond

	host, guest := &recorder{}, &recorder{}
	hp := New(srv, 7, host.options(Options{Interval: interval, View: ViewLobby}))
	gp := New(srv, 7, guest.options(Options{Interval: interval, View: ViewLobby}))
	hp.Start(context.Background())
	gp.Start(context.Background())
	defer hp.Stop()
	defer gp.Stop()

	eventually(t, "both pollers to see WAITING", func() bool {
		return len(host.snapshot().states) == 1 && len(guest.snapshot().states) == 1
	})

	changed := time.Now()
	srv.set(func(g *pubhunt.Game) { g.Status = pubhunt.StatusActive })

	eventually(t, "both pollers to navigate", func() bool {
		return len(host.snapshot().navigation) == 1 && len(guest.snapshot().navigation) == 1
	})
	if elapsed := time.Since(changed); elapsed > interval+100*time.Millisecond {
		t.Errorf("navigation took %s, want within about one interval", elapsed)
	}

	before := srv.calls.Load()
	eventually(t, "more polls", func() bool { return srv.calls.Load() >= before+4 })

	for name, r := range map[string]*recorder{"host": host, "guest": guest} {
		nav := r.snapshot().navigation
		if len(nav) != 1 || nav[0] != ViewActive {
			t.Errorf("%s navigation = %v, want exactly [active]", name, nav)
		}
	}
	if hp.View() != ViewActive {
		t.Errorf("View() = %s, want active", hp.View())
	}
}

func TestNoNavigationOutsideLobby(t *testing.T) {
	srv := &fakeServer{game: pubhunt.Game{ID: 7, Status: pubhunt.StatusActive}}
	rec := &recorder{}
	p := New(srv, 7, rec.options(Options{Interval: 5 * time.Millisecond, View: ViewActive}))
	p.Start(context.Background())

	eventually(t, "first state", func() bool { return len(rec.snapshot().states) == 1 })
	p.Stop()

	if nav := rec.snapshot().navigation; len(nav) != 0 {
		t.Errorf("navigation = %v, want none", nav)
	}
}

func TestFinishedRedirectsAfterGrace(t *testing.T) {
	srv := &fakeServer{game: pubhunt.Game{ID: 3, Status: pubhunt.StatusActive}}
	rec := &recorder{}
	grace := 60 * time.Millisecond
	p := New(srv, 3, rec.options(Options{Interval: 5 * time.Millisecond, View: ViewActive, FinishGrace: grace}))
	p.Start(context.Background())
	defer p.Stop()

	eventually(t, "active state", func() bool { return len(rec.snapshot().states) == 1 })

	srv.set(func(g *pubhunt.Game) { g.Status = pubhunt.StatusFinished })
	eventually(t, "finished notice", func() bool { return rec.snapshot().finished == 1 })
	finishedAt := time.Now()

	if nav := rec.snapshot().navigation; len(nav) != 0 {
		t.Fatalf("navigated before grace period: %v", nav)
	}

	eventually(t, "redirect home", func() bool { return len(rec.snapshot().navigation) == 1 })
	if elapsed := time.Since(finishedAt); elapsed < grace/2 {
		t.Errorf("redirect after %s, want about %s", elapsed, grace)
	}
	if nav := rec.snapshot().navigation; nav[0] != ViewHome {
		t.Errorf("navigation = %v, want [home]", nav)
	}
	if rec.snapshot().finished != 1 {
		t.Errorf("OnFinished calls = %d, want 1", rec.snapshot().finished)
	}
}

func TestStopCancelsRedirect(t *testing.T) {
	srv := &fakeServer{game: pubhunt.Game{ID: 3, Status: pubhunt.StatusActive}}
	rec := &recorder{}
	p := New(srv, 3, rec.options(Options{Interval: time.Hour, FinishGrace: 30 * time.Millisecond}))
	p.Start(context.Background())
	eventually(t, "first state", func() bool { return len(rec.snapshot().states) == 1 })

	p.Observe(pubhunt.Game{ID: 3, Status: pubhunt.StatusFinished})
	if rec.snapshot().finished != 1 {
		t.Fatal("Observe of a finished game did not notify")
	}
	p.Stop()
	p.Stop()

	time.Sleep(80 * time.Millisecond)
	if nav := rec.snapshot().navigation; len(nav) != 0 {
		t.Errorf("redirect fired after Stop: %v", nav)
	}

	p.Observe(pubhunt.Game{ID: 3, Status: pubhunt.StatusWaiting})
	if n := len(rec.snapshot().states); n != 2 {
		t.Errorf("Observe after Stop changed state: %d notifications", n)
	}
}

func TestConnectionLost(t *testing.T) {
	srv := &fakeServer{game: pubhunt.Game{ID: 4, Status: pubhunt.StatusWaiting}}
	rec := &recorder{}
	p := New(srv, 4, rec.options(Options{Interval: 5 * time.Millisecond, FailureThreshold: 3}))

	srv.setFail(true)
	p.Start(context.Background())
	defer p.Stop()

	eventually(t, "connection lost", func() bool { return p.ConnectionLost() })
	eventually(t, "more failed polls", func() bool { return srv.calls.Load() >= 6 })
	if conn := rec.snapshot().connection; len(conn) != 1 || !conn[0] {
		t.Fatalf("connection events = %v, want [true]", conn)
	}

	srv.setFail(false)
	eventually(t, "connection restored", func() bool { return !p.ConnectionLost() })
	if conn := rec.snapshot().connection; len(conn) != 2 || conn[1] {
		t.Errorf("connection events = %v, want [true false]", conn)
	}
}

func TestSingleFailureIsSilent(t *testing.T) {
	srv := &fakeServer{game: pubhunt.Game{ID: 4}, fail: true}
	rec := &recorder{}
	p := New(srv, 4, rec.options(Options{Interval: time.Hour, FailureThreshold: 3}))
	p.Start(context.Background())

	eventually(t, "first poll", func() bool { return srv.calls.Load() == 1 })
	p.Stop()

	if p.ConnectionLost() || len(rec.snapshot().connection) != 0 {
		t.Error("single failure surfaced as connection lost")
	}
}

func TestRefreshFetchesImmediately(t *testing.T) {
	srv := &fakeServer{game: pubhunt.Game{ID: 5}}
	p := New(srv, 5, Options{Interval: time.Hour})
	p.Start(context.Background())
	defer p.Stop()

	eventually(t, "first poll", func() bool { return srv.calls.Load() == 1 })
	p.Refresh()
	eventually(t, "refresh poll", func() bool { return srv.calls.Load() == 2 })
}

type memCache struct {
	mu    sync.Mutex
	games map[int64]pubhunt.Game
}

func (m *memCache) LoadGame(_ context.Context, id int64) (pubhunt.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return pubhunt.Game{}, errors.New("not found")
	}
	return g, nil
}

func (m *memCache) SaveGame(_ context.Context, g pubhunt.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = g
	return nil
}

func TestCachePrimesAndStores(t *testing.T) {
	cache := &memCache{games: map[int64]pubhunt.Game{6: {ID: 6, Status: pubhunt.StatusActive}}}
	srv := &fakeServer{game: pubhunt.Game{ID: 6, Status: pubhunt.StatusWaiting}}
	srv.setFail(true)

	rec := &recorder{}
	p := New(srv, 6, rec.options(Options{Interval: time.Hour, Cache: cache}))
	p.Start(context.Background())

	eventually(t, "cached state", func() bool { return len(rec.snapshot().states) == 1 })
	if got, _ := p.State(); got.Status != pubhunt.StatusActive {
		t.Errorf("primed state = %+v", got)
	}

	srv.setFail(false)
	p.Refresh()
	eventually(t, "fetched state", func() bool { return len(rec.snapshot().states) == 2 })
	p.Stop()

	if g, _ := cache.LoadGame(context.Background(), 6); g.Status != pubhunt.StatusWaiting {
		t.Errorf("cache not updated: %+v", g)
	}
}
