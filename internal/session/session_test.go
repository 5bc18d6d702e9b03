package session

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/playperu/pubhunt/internal/pubhunt"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantNil bool
		wantErr bool
	}{
		{"empty", "", true, false},
		{"valid", testKey, false, false},
		{"short", "0011", false, true},
		{"not hex", strings.Repeat("zz", 32), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseKey(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (key == nil) != tt.wantNil {
				t.Errorf("key nil = %v, want %v", key == nil, tt.wantNil)
			}
		})
	}
}

func TestSetLoadClear(t *testing.T) {
	ctx := context.Background()
	user := pubhunt.User{ID: 7, Username: "ciara"}

	for _, keyed := range []bool{false, true} {
		name := "plain"
		if keyed {
			name = "sealed"
		}
		t.Run(name, func(t *testing.T) {
			var key *[32]byte
			if keyed {
				var err error
				if key, err = ParseKey(testKey); err != nil {
					t.Fatal(err)
				}
			}
			p := &MemoryPersister{}

			s := New(p, key, quiet)
			if err := s.Set(ctx, "tok-1", user); err != nil {
				t.Fatalf("Set: %v", err)
			}

			doc, _ := p.LoadSession(ctx)
			if doc.Sealed != keyed {
				t.Errorf("stored Sealed = %v, want %v", doc.Sealed, keyed)
			}
			if keyed && doc.Token == "tok-1" {
				t.Error("token stored in the clear despite key")
			}

			restored := New(p, key, quiet)
			if err := restored.Load(ctx); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if restored.Token() != "tok-1" || restored.User() != user {
				t.Errorf("restored = (%q, %+v), want (tok-1, %+v)", restored.Token(), restored.User(), user)
			}

			if err := restored.Clear(ctx); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if restored.Authenticated() {
				t.Error("Authenticated after Clear")
			}
			if _, err := p.LoadSession(ctx); err == nil {
				t.Error("persisted document survived Clear")
			}
		})
	}
}

func TestLoadDiscardsUnopenableToken(t *testing.T) {
	ctx := context.Background()
	key, _ := ParseKey(testKey)
	other, _ := ParseKey(strings.Repeat("ff", 32))
	p := &MemoryPersister{}

	if err := New(p, key, quiet).Set(ctx, "secret", pubhunt.User{ID: 1, Username: "a"}); err != nil {
		t.Fatal(err)
	}

	s := New(p, other, quiet)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Authenticated() {
		t.Error("session authenticated with a token sealed under another key")
	}
	if _, err := p.LoadSession(ctx); err == nil {
		t.Error("unopenable document was not discarded")
	}
}

func TestLoadEmpty(t *testing.T) {
	s := New(&MemoryPersister{}, nil, quiet)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Authenticated() {
		t.Error("empty store produced an authenticated session")
	}
}
