package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/playperu/pubhunt/internal/database"
	"github.com/playperu/pubhunt/internal/migrations"
	"github.com/playperu/pubhunt/internal/pubhunt"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Run(ctx, db, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestSessionLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.LoadSession(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty LoadSession err = %v, want ErrNotFound", err)
	}

	doc := SessionDoc{Token: "abc123", User: pubhunt.User{ID: 4, Username: "niamh"}}
	if err := s.SaveSession(ctx, doc); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	doc.Token = "def456"
	if err := s.SaveSession(ctx, doc); err != nil {
		t.Fatalf("SaveSession overwrite: %v", err)
	}

	got, err := s.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got != doc {
		t.Errorf("LoadSession = %+v, want %+v", got, doc)
	}

	if err := s.ClearSession(ctx); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if _, err := s.LoadSession(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadSession after clear err = %v, want ErrNotFound", err)
	}
}

func TestGameSnapshots(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.LoadGame(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadGame missing err = %v, want ErrNotFound", err)
	}

	g := pubhunt.Game{
		ID:         9,
		Status:     pubhunt.StatusWaiting,
		Host:       pubhunt.User{ID: 1, Username: "aoife"},
		Radius:     400,
		KittyTotal: decimal.RequireFromString("25.50"),
		Players:    []pubhunt.Player{{ID: 1, User: pubhunt.User{ID: 1, Username: "aoife"}, Team: pubhunt.TeamOne}},
	}
	if err := s.SaveGame(ctx, g); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}

	got, err := s.LoadGame(ctx, 9)
	if err != nil {
		t.Fatalf("LoadGame: %v", err)
	}
	if !got.Equal(g) {
		t.Errorf("LoadGame = %+v, want %+v", got, g)
	}

	g.Status = pubhunt.StatusFinished
	if err := s.SaveGame(ctx, g); err != nil {
		t.Fatalf("SaveGame update: %v", err)
	}
	n, err := s.ForgetFinished(ctx)
	if err != nil {
		t.Fatalf("ForgetFinished: %v", err)
	}
	if n != 1 {
		t.Errorf("ForgetFinished removed %d, want 1", n)
	}
}
