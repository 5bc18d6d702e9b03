package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playperu/pubhunt/internal/api"
	"github.com/playperu/pubhunt/internal/geo"
	"github.com/playperu/pubhunt/internal/handler/health"
	"github.com/playperu/pubhunt/internal/hunt"
	"github.com/playperu/pubhunt/internal/mapview"
	"github.com/playperu/pubhunt/internal/pubhunt"
)

type fakeController struct {
	mu      sync.Mutex
	loaded  bool
	msgs    []pubhunt.ChatMessage
	amounts []decimal.Decimal
	hints   []string
	postErr error
	hintErr error
}

func (f *fakeController) GameID() int64 { return 7 }

func (f *fakeController) Game() (pubhunt.Game, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pubhunt.Game{ID: 7, Status: pubhunt.StatusActive, KittyTotal: decimal.RequireFromString("40")}, f.loaded
}

func (f *fakeController) Scene() (mapview.Scene, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return mapview.Scene{Center: geo.DefaultCenter, RadiusMeters: 500, Refit: true}, f.loaded
}

func (f *fakeController) Messages() []pubhunt.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs
}

func (f *fakeController) ConnectionLost() bool { return false }

func (f *fakeController) PostMessage(_ context.Context, content string) (pubhunt.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return pubhunt.ChatMessage{}, f.postErr
	}
	m := pubhunt.ChatMessage{ID: int64(len(f.msgs) + 1), Content: content, Username: "me"}
	f.msgs = append(f.msgs, m)
	return m, nil
}

func (f *fakeController) SubtractKitty(_ context.Context, amount decimal.Decimal) (api.KittyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amounts = append(f.amounts, amount)
	return api.KittyResult{Message: "Kitty updated", KittyTotal: decimal.RequireFromString("40").Sub(amount)}, nil
}

func (f *fakeController) SendHint(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hintErr != nil {
		return f.hintErr
	}
	f.hints = append(f.hints, text)
	return nil
}

type testServer struct {
	*httptest.Server
	broker *Broker
}

func newTestServer(t *testing.T, c Controller) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := NewBroker()
	s := New("127.0.0.1:0", logger, []string{"http://localhost:5173"}, Routes(Deps{
		Logger:     logger,
		Controller: c,
		Broker:     broker,
		Checks: map[string]health.Checker{
			"sqlite": health.CheckFunc(func(context.Context) error { return nil }),
		},
		PublicURL: "https://pubhunt.example/",
	}))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, broker: broker}
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestStateRoutes(t *testing.T) {
	c := &fakeController{}
	srv := newTestServer(t, c)

	for _, path := range []string{"/api/scene", "/api/game"} {
		if resp, _ := do(t, http.MethodGet, srv.URL+path, ""); resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s before load: status = %d, want 503", path, resp.StatusCode)
		}
	}

	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()

	resp, body := do(t, http.MethodGet, srv.URL+"/api/scene", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scene status = %d", resp.StatusCode)
	}
	var scene mapview.Scene
	if err := json.Unmarshal(body, &scene); err != nil {
		t.Fatal(err)
	}
	if scene.RadiusMeters != 500 || !scene.Refit {
		t.Errorf("scene = %+v", scene)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/game", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"ACTIVE"`) {
		t.Errorf("game = %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/messages", "")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("empty messages = %d %s, want []", resp.StatusCode, body)
	}
}

func TestPostMessage(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		postErr    error
		wantStatus int
	}{
		{"ok", `{"content":"  at the bar  "}`, nil, http.StatusCreated},
		{"blank", `{"content":"   "}`, nil, http.StatusBadRequest},
		{"malformed", `{"content":`, nil, http.StatusBadRequest},
		{"backend rejects", `{"content":"hi"}`, &api.Error{Op: "post message", Status: http.StatusForbidden, Message: "Not a player"}, http.StatusForbidden},
		{"backend down", `{"content":"hi"}`, api.ErrServerUnavailable, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeController{postErr: tt.postErr}
			srv := newTestServer(t, c)

			resp, body := do(t, http.MethodPost, srv.URL+"/api/messages", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantStatus == http.StatusCreated {
				if msgs := c.Messages(); len(msgs) != 1 || msgs[0].Content != "at the bar" {
					t.Errorf("messages = %+v", msgs)
				}
			}
		})
	}
}

func TestKitty(t *testing.T) {
	c := &fakeController{}
	srv := newTestServer(t, c)

	for _, body := range []string{`{"amount":0}`, `{"amount":"-3"}`, `{}`} {
		if resp, _ := do(t, http.MethodPost, srv.URL+"/api/kitty", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, resp.StatusCode)
		}
	}

	resp, body := do(t, http.MethodPost, srv.URL+"/api/kitty", `{"amount":"12.50"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, body)
	}
	var res api.KittyResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if !res.KittyTotal.Equal(decimal.RequireFromString("27.5")) || res.GameEnded {
		t.Errorf("result = %+v", res)
	}
	if len(c.amounts) != 1 || !c.amounts[0].Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("amounts = %v", c.amounts)
	}
}

func TestHint(t *testing.T) {
	tests := []struct {
		name       string
		hintErr    error
		body       string
		wantStatus int
	}{
		{"sent", nil, `{"hint":"near the river"}`, http.StatusNoContent},
		{"empty", nil, `{"hint":""}`, http.StatusBadRequest},
		{"no channel", hunt.ErrNoChannel, `{"hint":"x"}`, http.StatusServiceUnavailable},
		{"send fails", errors.New("broken pipe"), `{"hint":"x"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeController{hintErr: tt.hintErr})
			if resp, body := do(t, http.MethodPost, srv.URL+"/api/hint", tt.body); resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}
}

func TestInvite(t *testing.T) {
	srv := newTestServer(t, &fakeController{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/invite.png?size=200", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "image/png" || !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Errorf("not a png: %q", resp.Header.Get("Content-Type"))
	}

	if resp, _ := do(t, http.MethodGet, srv.URL+"/api/invite.png?size=5", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("tiny size status = %d, want 400", resp.StatusCode)
	}

	if got := InviteURL("https://pubhunt.example/", 7); got != "https://pubhunt.example/lobby/7" {
		t.Errorf("InviteURL = %q", got)
	}
}

func TestInviteNotConfigured(t *testing.T) {
	r := httptest.NewRecorder()
	handleInvite(&fakeController{}, "")(r, httptest.NewRequest(http.MethodGet, "/api/invite.png", nil))
	if r.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", r.Code)
	}
}

func TestEventsStream(t *testing.T) {
	srv := newTestServer(t, &fakeController{})

	if resp, _ := do(t, http.MethodGet, srv.URL+"/api/events?game=99", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("other game status = %d, want 404", resp.StatusCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?game=7", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	topic := hunt.Topic(7)
	deadline := time.Now().Add(2 * time.Second)
	for srv.broker.Subscribers(topic) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	srv.broker.Publish(hunt.Topic(8), hunt.Event{Type: hunt.EventNotice, Data: "other game"})
	srv.broker.Publish(topic, hunt.Event{Type: hunt.EventNotice, Data: hunt.Notice{ID: "n1", Level: hunt.LevelInfo, Text: "Game over!"}})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) != 2 || lines[0] != "event: notice" || !strings.Contains(lines[1], `"text":"Game over!"`) {
		t.Errorf("frame = %q", lines)
	}

	cancel()
	for srv.broker.Subscribers(topic) != 0 {
		if time.Now().After(deadline.Add(time.Second)) {
			t.Fatal("stream not unsubscribed after disconnect")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHealthAndCORS(t *testing.T) {
	srv := newTestServer(t, &fakeController{})

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"sqlite":{"status":"ok"}`) {
		t.Errorf("healthz = %d %s", resp.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/kitty", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	pre, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	pre.Body.Close()
	if got := pre.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}
}
