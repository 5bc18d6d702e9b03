package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/playperu/pubhunt/internal/api"
	"github.com/playperu/pubhunt/internal/config"
	"github.com/playperu/pubhunt/internal/database"
	"github.com/playperu/pubhunt/internal/migrations"
	"github.com/playperu/pubhunt/internal/session"
	"github.com/playperu/pubhunt/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"login":    {"login -u USER -p PASSWORD", cmdLogin},
	"register": {"register -u USER -p PASSWORD [-email EMAIL]", cmdRegister},
	"logout":   {"logout", cmdLogout},
	"whoami":   {"whoami", cmdWhoami},
	"games":    {"games", cmdGames},
	"create":   {"create -kitty AMOUNT [-at LAT,LON -radius M]", cmdCreate},
	"join":     {"join GAME", cmdJoin},
	"start":    {"start GAME", cmdStart},
	"end":      {"end GAME", cmdEnd},
	"area":     {"area GAME -at LAT,LON -radius M", cmdArea},
	"kitty":    {"kitty GAME AMOUNT", cmdKitty},
	"chat":     {"chat GAME", cmdChat},
	"say":      {"say GAME [--] TEXT...", cmdSay},
	"watch":    {"watch GAME [-at LAT,LON | -track FILE] [-every DURATION]", cmdWatch},
	"invite":   {"invite GAME [-o FILE] [-size PX]", cmdInvite},
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: pubhunt COMMAND [ARGS]")
	fmt.Fprintln(w)
	for _, name := range names {
		fmt.Fprintf(w, "  pubhunt %s\n", commands[name].usage)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stdout)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	a, err := openApp(ctx, cfg, logger, stdout)
	if err != nil {
		return err
	}
	defer a.close()

	if err := cmd.run(ctx, a, args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "usage: pubhunt %s\n", cmd.usage)
			return err
		}
		logger.Debug("command failed", "command", args[0], "error", err)
		return errors.New(api.Message(err))
	}
	return nil
}

// app is what every command works with.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	db     *sql.DB
	store  *store.Store
	sess   *session.Session
	client *api.Client
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*app, error) {
	// --- SQLite ---
	db, err := database.Open(ctx, cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	if err := migrations.Run(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	st := store.New(db)

	// --- Session ---
	var key *[32]byte
	if cfg.SessionKey != "" {
		if key, err = session.ParseKey(cfg.SessionKey); err != nil {
			db.Close()
			return nil, fmt.Errorf("parsing PUBHUNT_SESSION_KEY: %w", err)
		}
	}
	sess := session.New(st, key, logger)
	if err := sess.Load(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading session: %w", err)
	}

	// --- Game server client ---
	client := api.New(sess, api.Options{
		BaseURL:    cfg.APIURL,
		AuthScheme: cfg.AuthScheme,
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		MaxRetries: cfg.RetryMax,
		RetryBase:  cfg.RetryBase,
		Logger:     logger,
	})

	logger.Debug("ready", "mode", cfg.Mode, "api_url", cfg.APIURL, "state_db", cfg.StateDB)
	return &app{cfg: cfg, logger: logger, out: out, db: db, store: st, sess: sess, client: client}, nil
}

func (a *app) close() {
	a.db.Close()
}
