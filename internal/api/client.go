// Package api is the client for the Pub Hunt backend's HTTP JSON API.
//
// Every call carries the session token when one is present. Calls that get no
// response at all are retried with exponential backoff; any response with an
// error status is returned immediately as an *Error.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/pubhunt/internal/pubhunt"
)

// Session is the auth state the client reads on every call and writes on
// login, registration and logout.
type Session interface {
	Token() string
	Set(ctx context.Context, token string, user pubhunt.User) error
	Clear(ctx context.Context) error
}

type Options struct {
	BaseURL    string
	AuthScheme string
	HTTPClient *http.Client
	MaxRetries int
	RetryBase  time.Duration
	// Sleep waits between attempts. It defaults to a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

type Client struct {
	base       string
	scheme     string
	http       *http.Client
	maxRetries int
	retryBase  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	session    Session
	logger     *slog.Logger
}

func New(sess Session, opts Options) *Client {
	c := &Client{
		base:       strings.TrimRight(opts.BaseURL, "/"),
		scheme:     opts.AuthScheme,
		http:       opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBase,
		sleep:      opts.Sleep,
		session:    sess,
		logger:     opts.Logger,
	}
	if c.scheme == "" {
		c.scheme = "Token"
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	if c.retryBase <= 0 {
		c.retryBase = time.Second
	}
	if c.sleep == nil {
		c.sleep = sleep
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Backoff returns the delay before retry n (zero based): base, 2·base, 4·base...
func Backoff(base time.Duration, n int) time.Duration {
	return base << n
}

type call struct {
	op     string
	method string
	path   string
	body   any
	auth   bool
}

// do runs c, retrying transport failures, and decodes a successful response
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	token := c.session.Token()
	if cl.auth && token == "" {
		return fmt.Errorf("%s: %w", cl.op, ErrNotAuthenticated)
	}

	var payload []byte
	if cl.body != nil {
		var err error
		if payload, err = json.Marshal(cl.body); err != nil {
			return fmt.Errorf("%s: encoding request: %w", cl.op, err)
		}
	}

	reqID := uuid.NewString()
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, cl, token, reqID, payload)
		if err == nil {
			defer resp.Body.Close()
			return c.decode(cl.op, resp, out)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", cl.op, ctx.Err())
		}

		lastErr = err
		if attempt >= c.maxRetries {
			break
		}
		delay := Backoff(c.retryBase, attempt)
		c.logger.Warn("request failed, retrying",
			"op", cl.op, "request_id", reqID, "attempt", attempt+1, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", cl.op, err)
		}
	}

	c.logger.Error("server unavailable", "op", cl.op, "request_id", reqID, "error", lastErr)
	return fmt.Errorf("%s: %w: %v", cl.op, ErrServerUnavailable, lastErr)
}

func (c *Client) send(ctx context.Context, cl call, token, reqID string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.base+cl.path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", c.scheme+" "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("api request",
		"op", cl.op,
		"method", cl.method,
		"path", cl.path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", reqID,
	)
	return resp, nil
}

func (c *Client) decode(op string, resp *http.Response, out any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, Status: resp.StatusCode, Message: serverMessage(data, fallbacks[op])}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
