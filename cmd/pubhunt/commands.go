package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/playperu/pubhunt/internal/api"
	"github.com/playperu/pubhunt/internal/geo"
	"github.com/playperu/pubhunt/internal/pubhunt"
	"github.com/playperu/pubhunt/internal/server"
)

var errUsage = errors.New("usage")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parse parses flags that may come before or after the positional arguments.
func parse(fs *flag.FlagSet, args []string) ([]string, error) {
	return parseUpTo(fs, args, -1)
}

// parseUpTo is parse for commands whose trailing text is free-form: once n
// positional arguments are found the rest is kept verbatim, minus a leading
// "--". A negative n never stops.
func parseUpTo(fs *flag.FlagSet, args []string, n int) ([]string, error) {
	var pos []string
	for n < 0 || len(pos) < n {
		if err := fs.Parse(args); err != nil {
			return nil, usageErr("%s: %v", fs.Name(), err)
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return pos, nil
		}
		pos = append(pos, rest[0])
		args = rest[1:]
	}
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	return append(pos, args...), nil
}

func gameArg(pos []string) (int64, error) {
	if len(pos) == 0 {
		return 0, usageErr("game id required")
	}
	id, err := strconv.ParseInt(pos[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, usageErr("invalid game id %q", pos[0])
	}
	return id, nil
}

// parseAt reads "LAT,LON".
func parseAt(s string) (geo.Coordinate, error) {
	latS, lonS, ok := strings.Cut(s, ",")
	if !ok {
		return geo.Coordinate{}, usageErr("-at wants LAT,LON, got %q", s)
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if err1 != nil || err2 != nil || !c.Valid() {
		return geo.Coordinate{}, usageErr("invalid coordinate %q", s)
	}
	return c, nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login")
	user := fs.String("u", "", "username")
	pass := fs.String("p", "", "password")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	if *user == "" || *pass == "" {
		return usageErr("login needs -u and -p")
	}
	u, err := a.client.Login(ctx, *user, *pass)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s.\n", u.Username)
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlags("register")
	user := fs.String("u", "", "username")
	pass := fs.String("p", "", "password")
	email := fs.String("email", "", "email")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	if *user == "" || *pass == "" {
		return usageErr("register needs -u and -p")
	}
	u, err := a.client.Register(ctx, *user, *pass, *email)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Registered and logged in as %s.\n", u.Username)
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func cmdWhoami(ctx context.Context, a *app, _ []string) error {
	u, err := a.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (id %d)\n", u.Username, u.ID)
	return nil
}

func cmdGames(ctx context.Context, a *app, _ []string) error {
	games, err := a.client.ListGames(ctx)
	if err != nil {
		return err
	}
	if n, err := a.store.ForgetFinished(ctx); err == nil && n > 0 {
		a.logger.Debug("forgot finished games", "count", n)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tHOST\tPLAYERS\tKITTY")
	for _, g := range games {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", g.ID, g.Status, g.Host.Username, len(g.Players), g.KittyTotal.StringFixed(2))
	}
	return tw.Flush()
}

func cmdCreate(ctx context.Context, a *app, args []string) error {
	fs := newFlags("create")
	kitty := fs.String("kitty", "", "kitty per player")
	at := fs.String("at", "", "center LAT,LON")
	radius := fs.Float64("radius", 0, "play area radius in meters")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(*kitty)
	if err != nil || !amount.IsPositive() {
		return usageErr("-kitty must be a positive amount")
	}

	ng := api.NewGame{KittyValue: amount, Radius: *radius}
	if *at != "" {
		c, err := parseAt(*at)
		if err != nil {
			return err
		}
		p := geo.NewPoint(c)
		ng.Center = &p
	}
	g, err := a.client.CreateGame(ctx, ng)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created game %d.\n", g.ID)
	return nil
}

func gameAction(verb string, fn func(c *api.Client) func(context.Context, int64) (pubhunt.Game, error)) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		pos, err := parse(newFlags(verb), args)
		if err != nil {
			return err
		}
		id, err := gameArg(pos)
		if err != nil {
			return err
		}
		g, err := fn(a.client)(ctx, id)
		if err != nil {
			return err
		}
		if g.ID != 0 {
			if err := a.store.SaveGame(ctx, g); err != nil {
				a.logger.Warn("caching game state", "game_id", id, "error", err)
			}
		}
		fmt.Fprintf(a.out, "Game %d: %s.\n", id, verb)
		return nil
	}
}

var (
	cmdJoin  = gameAction("joined", func(c *api.Client) func(context.Context, int64) (pubhunt.Game, error) { return c.JoinGame })
	cmdStart = gameAction("started", func(c *api.Client) func(context.Context, int64) (pubhunt.Game, error) { return c.StartGame })
	cmdEnd   = gameAction("ended", func(c *api.Client) func(context.Context, int64) (pubhunt.Game, error) { return c.EndGame })
)

func cmdArea(ctx context.Context, a *app, args []string) error {
	fs := newFlags("area")
	at := fs.String("at", "", "center LAT,LON")
	radius := fs.Float64("radius", 500, "radius in meters")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	id, err := gameArg(pos)
	if err != nil {
		return err
	}
	c, err := parseAt(*at)
	if err != nil {
		return err
	}
	if _, err := a.client.SetArea(ctx, id, c, *radius); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Play area of game %d set to %.0f m around %s.\n", id, *radius, c)
	return nil
}

func cmdKitty(ctx context.Context, a *app, args []string) error {
	pos, err := parse(newFlags("kitty"), args)
	if err != nil {
		return err
	}
	id, err := gameArg(pos)
	if err != nil {
		return err
	}
	if len(pos) < 2 {
		return usageErr("kitty needs an amount")
	}
	amount, err := decimal.NewFromString(pos[1])
	if err != nil {
		return usageErr("invalid amount %q", pos[1])
	}
	res, err := a.client.SubtractKitty(ctx, id, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s Kitty now %s.\n", res.Message, res.KittyTotal.StringFixed(2))
	if res.GameEnded {
		fmt.Fprintln(a.out, "The kitty is empty. Game over!")
	}
	return nil
}

func cmdChat(ctx context.Context, a *app, args []string) error {
	pos, err := parse(newFlags("chat"), args)
	if err != nil {
		return err
	}
	id, err := gameArg(pos)
	if err != nil {
		return err
	}
	msgs, err := a.client.Messages(ctx, id)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Fprintf(a.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.Username, m.Content)
	}
	return nil
}

func cmdSay(ctx context.Context, a *app, args []string) error {
	pos, err := parseUpTo(newFlags("say"), args, 1)
	if err != nil {
		return err
	}
	id, err := gameArg(pos)
	if err != nil {
		return err
	}
	text := strings.Join(pos[1:], " ")
	if strings.TrimSpace(text) == "" {
		return usageErr("say needs a message")
	}
	if _, err := a.client.PostMessage(ctx, id, text); err != nil {
		return err
	}
	return nil
}

func cmdInvite(_ context.Context, a *app, args []string) error {
	fs := newFlags("invite")
	out := fs.String("o", "", "output file")
	size := fs.Int("size", 256, "size in pixels")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	id, err := gameArg(pos)
	if err != nil {
		return err
	}
	if a.cfg.PublicURL == "" {
		return errors.New("PUBHUNT_PUBLIC_URL is not set")
	}
	if *out == "" {
		*out = fmt.Sprintf("pubhunt-%d.png", id)
	}

	png, err := server.InvitePNG(a.cfg.PublicURL, id, *size)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, png, 0o644); err != nil {
		return fmt.Errorf("writing invite: %w", err)
	}
	fmt.Fprintf(a.out, "Invite for %s written to %s.\n", server.InviteURL(a.cfg.PublicURL, id), *out)
	return nil
}
