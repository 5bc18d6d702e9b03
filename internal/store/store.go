// Package store keeps the client's local state: the signed-in session and
// the last known snapshot of each game, as JSONB documents in libSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/playperu/pubhunt/internal/pubhunt"
)

var ErrNotFound = errors.New("not found")

// SessionDoc is the persisted auth state. Token is sealed when Sealed is set.
type SessionDoc struct {
	Token  string       `json:"token"`
	Sealed bool         `json:"sealed"`
	User   pubhunt.User `json:"user"`
}

type Store struct {
	db *sql.DB
}

// New wraps a migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) LoadSession(ctx context.Context) (SessionDoc, error) {
	var doc SessionDoc
	err := s.get(ctx, `SELECT json(data) FROM session WHERE id = 1`, &doc)
	return doc, err
}

func (s *Store) SaveSession(ctx context.Context, doc SessionDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session (id, username, data) VALUES (1, ?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET username = excluded.username, data = excluded.data`,
		doc.User.Username, string(data),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

func (s *Store) SaveGame(ctx context.Context, g pubhunt.Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding game %d: %w", g.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO game_snapshots (id, status, data) VALUES (?, ?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		g.ID, string(g.Status), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving game %d: %w", g.ID, err)
	}
	return nil
}

func (s *Store) LoadGame(ctx context.Context, id int64) (pubhunt.Game, error) {
	var g pubhunt.Game
	err := s.get(ctx, `SELECT json(data) FROM game_snapshots WHERE id = ?`, &g, id)
	return g, err
}

// ForgetFinished drops snapshots of finished games and returns how many
// were removed.
func (s *Store) ForgetFinished(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM game_snapshots WHERE status = ?`, string(pubhunt.StatusFinished),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) get(ctx context.Context, query string, dest any, args ...any) error {
	var data string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}
