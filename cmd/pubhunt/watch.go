package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playperu/pubhunt/internal/api"
	"github.com/playperu/pubhunt/internal/handler/health"
	"github.com/playperu/pubhunt/internal/hunt"
	"github.com/playperu/pubhunt/internal/location"
	"github.com/playperu/pubhunt/internal/poller"
	"github.com/playperu/pubhunt/internal/pubhunt"
	"github.com/playperu/pubhunt/internal/realtime"
	"github.com/playperu/pubhunt/internal/server"
)

// cmdWatch runs the game view with the companion server until the game ends
// or the process is interrupted. A game that has not started yet is watched
// from the lobby, which gives way to the active view once the host starts.
func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlags("watch")
	at := fs.String("at", "", "fixed position LAT,LON")
	track := fs.String("track", "", "GeoJSON track to replay")
	every := fs.Duration("every", 5*time.Second, "position update interval")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	id, err := gameArg(pos)
	if err != nil {
		return err
	}
	if !a.sess.Authenticated() {
		return api.ErrNotAuthenticated
	}

	provider, err := locationSource(*at, *track, *every)
	if err != nil {
		return err
	}
	var tracker *location.Tracker
	if provider != nil {
		tracker = location.New(provider, a.cfg.LocationTimeout, a.logger)
	} else {
		a.logger.Warn("no location source, position sharing is off")
	}

	if n, err := a.store.ForgetFinished(ctx); err != nil {
		a.logger.Warn("pruning finished games", "error", err)
	} else if n > 0 {
		a.logger.Info("pruned finished games", "count", n)
	}

	g, err := a.client.Game(ctx, id)
	if err != nil {
		return err
	}
	if g.Status == pubhunt.StatusFinished {
		fmt.Fprintf(a.out, "Game %d is over.\n", id)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	broker := server.NewBroker()
	started := make(chan struct{}, 1)
	cfg := hunt.Config{
		API:      a.client,
		Identity: a.sess,
		Dial: func(ctx context.Context, gameID int64, token string, onMessage func(realtime.Envelope)) (hunt.Channel, error) {
			conn, err := realtime.Dial(ctx, a.cfg.WSURL, gameID, token, realtime.Options{
				AuthScheme: a.cfg.AuthScheme,
				Logger:     a.logger,
				OnMessage:  onMessage,
			})
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		Tracker:          tracker,
		Sink:             broker,
		Cache:            a.store,
		Logger:           a.logger,
		PollInterval:     a.cfg.PollInterval,
		FailureThreshold: a.cfg.PollFailureThreshold,
		FinishGrace:      a.cfg.FinishGrace,
		OnNavigate: func(v poller.View) {
			switch v {
			case poller.ViewActive:
				select {
				case started <- struct{}{}:
				default:
				}
			case poller.ViewHome:
				fmt.Fprintf(a.out, "Game %d is over.\n", id)
				cancel()
			}
		},
	}

	var (
		lobby  *hunt.Lobby
		active *hunt.Active
		sw     *server.Switch
	)
	if g.Status == pubhunt.StatusWaiting || g.Status == pubhunt.StatusSetup {
		lobby = hunt.NewLobby(cfg, id)
		sw = server.NewSwitch(lobby)
	} else {
		active = hunt.NewActive(cfg, id)
		sw = server.NewSwitch(active)
	}

	srv := server.New(a.cfg.ViewAddr, a.logger, a.cfg.CORSOrigins, server.Routes(server.Deps{
		Logger:     a.logger,
		Controller: sw,
		Broker:     broker,
		Checks: map[string]health.Checker{
			"sqlite":  health.CheckFunc(a.store.Ping),
			"backend": health.CheckFunc(backendCheck(sw)),
		},
		PublicURL: a.cfg.PublicURL,
	}))

	// --- Run ---
	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if lobby == nil {
			return active.Run(gctx)
		}
		return follow(gctx, sw, lobby, started, func() *hunt.Active {
			fmt.Fprintf(a.out, "Game %d has started.\n", id)
			return hunt.NewActive(cfg, id)
		})
	})

	eg.Go(func() error {
		a.logger.Info("starting view server", "addr", a.cfg.ViewAddr, "game_id", id, "status", g.Status)
		fmt.Fprintf(a.out, "Watching game %d. View at http://%s/api/scene\n", id, a.cfg.ViewAddr)
		return srv.Run(gctx)
	})

	eg.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down view server")
		return srv.Shutdown(context.Background())
	})

	return eg.Wait()
}

// follow runs the lobby until started fires, then swaps sw over to the
// active view and runs that until ctx is done.
func follow(ctx context.Context, sw *server.Switch, lobby *hunt.Lobby, started <-chan struct{}, newActive func() *hunt.Active) error {
	lctx, stop := context.WithCancel(ctx)
	defer stop()
	done := make(chan error, 1)
	go func() { done <- lobby.Run(lctx) }()

	select {
	case <-started:
		stop()
		if err := <-done; err != nil {
			return err
		}
	case err := <-done:
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	active := newActive()
	sw.Set(active)
	return active.Run(ctx)
}

func backendCheck(c server.Controller) func(context.Context) error {
	return func(context.Context) error {
		if c.ConnectionLost() {
			return errors.New("game server unreachable")
		}
		return nil
	}
}

// locationSource picks the position provider from the flags. It returns nil
// when neither is set.
func locationSource(at, track string, every time.Duration) (location.Provider, error) {
	switch {
	case at != "" && track != "":
		return nil, usageErr("use either -at or -track")
	case at != "":
		c, err := parseAt(at)
		if err != nil {
			return nil, err
		}
		return &location.StaticProvider{Position: c, Interval: every}, nil
	case track != "":
		data, err := os.ReadFile(track)
		if err != nil {
			return nil, fmt.Errorf("reading track: %w", err)
		}
		points, err := location.ParseTrack(data)
		if err != nil {
			return nil, err
		}
		p, err := location.NewReplayProvider(points, every)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, nil
	}
}
