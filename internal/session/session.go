// Package session holds the signed-in user's token and profile for the
// lifetime of the process and writes them through to durable storage.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/playperu/pubhunt/internal/pubhunt"
	"github.com/playperu/pubhunt/internal/store"
)

var errOpen = errors.New("sealed token could not be opened")

// Persister is the durable side of a session.
type Persister interface {
	LoadSession(ctx context.Context) (store.SessionDoc, error)
	SaveSession(ctx context.Context, doc store.SessionDoc) error
	ClearSession(ctx context.Context) error
}

type Session struct {
	mu    sync.RWMutex
	token string
	user  pubhunt.User

	persist Persister
	key     *[32]byte
	logger  *slog.Logger
}

// New returns an empty session backed by p. key may be nil, in which case the
// token is stored in the clear.
func New(p Persister, key *[32]byte, logger *slog.Logger) *Session {
	return &Session{persist: p, key: key, logger: logger}
}

// ParseKey decodes a 64 character hex string into a secretbox key. An empty
// string yields a nil key.
func ParseKey(s string) (*[32]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding session key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("session key must be 32 bytes, got %d", len(b))
	}
	var key [32]byte
	copy(key[:], b)
	return &key, nil
}

// Load restores the persisted session. A missing document leaves the session
// empty. A sealed token that cannot be opened is discarded.
func (s *Session) Load(ctx context.Context) error {
	doc, err := s.persist.LoadSession(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	token := doc.Token
	if doc.Sealed {
		token, err = s.open(doc.Token)
		if err != nil {
			s.logger.Warn("discarding stored session", "username", doc.User.Username, "error", err)
			return s.persist.ClearSession(ctx)
		}
	}

	s.mu.Lock()
	s.token, s.user = token, doc.User
	s.mu.Unlock()
	return nil
}

// Set replaces the token and user and persists them.
func (s *Session) Set(ctx context.Context, token string, user pubhunt.User) error {
	s.mu.Lock()
	s.token, s.user = token, user
	s.mu.Unlock()

	doc := store.SessionDoc{Token: token, User: user}
	if s.key != nil {
		sealed, err := s.seal(token)
		if err != nil {
			return err
		}
		doc.Token, doc.Sealed = sealed, true
	}
	if err := s.persist.SaveSession(ctx, doc); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}
	return nil
}

// Clear forgets the session in memory first, then in storage.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.token, s.user = "", pubhunt.User{}
	s.mu.Unlock()

	if err := s.persist.ClearSession(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) User() pubhunt.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

func (s *Session) seal(token string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(token), &nonce, s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Session) open(sealed string) (string, error) {
	if s.key == nil {
		return "", fmt.Errorf("%w: no key configured", errOpen)
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 24 {
		return "", errOpen
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, s.key)
	if !ok {
		return "", errOpen
	}
	return string(plain), nil
}

// MemoryPersister keeps the session document in memory.
type MemoryPersister struct {
	mu  sync.Mutex
	doc *store.SessionDoc
}

func (m *MemoryPersister) LoadSession(context.Context) (store.SessionDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return store.SessionDoc{}, store.ErrNotFound
	}
	return *m.doc, nil
}

func (m *MemoryPersister) SaveSession(_ context.Context, doc store.SessionDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = &doc
	return nil
}

func (m *MemoryPersister) ClearSession(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = nil
	return nil
}
