package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/playperu/pubhunt/internal/pubhunt"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  pubhunt.User `json:"user"`
}

// Login authenticates and stores the token and user in the session.
func (c *Client) Login(ctx context.Context, username, password string) (pubhunt.User, error) {
	return c.authenticate(ctx, opLogin, "/login/", credentials{Username: username, Password: password})
}

// Register creates an account and signs it in. email may be empty.
func (c *Client) Register(ctx context.Context, username, password, email string) (pubhunt.User, error) {
	return c.authenticate(ctx, opRegister, "/register/", credentials{Username: username, Password: password, Email: email})
}

func (c *Client) authenticate(ctx context.Context, op, path string, creds credentials) (pubhunt.User, error) {
	var resp authResponse
	if err := c.do(ctx, call{op: op, method: http.MethodPost, path: path, body: creds}, &resp); err != nil {
		return pubhunt.User{}, err
	}
	if resp.Token == "" {
		return pubhunt.User{}, &Error{Op: op, Status: http.StatusOK, Message: fallbacks[op]}
	}
	if err := c.session.Set(ctx, resp.Token, resp.User); err != nil {
		return pubhunt.User{}, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Info("signed in", "user_id", resp.User.ID, "username", resp.User.Username)
	return resp.User, nil
}

// Logout tells the server to drop the token, then clears the session whatever
// the server said. Only a failure to clear the local session is returned.
func (c *Client) Logout(ctx context.Context) error {
	if c.session.Token() != "" {
		if err := c.do(ctx, call{op: opLogout, method: http.MethodPost, path: "/logout/", auth: true}, nil); err != nil {
			c.logger.Warn("server logout failed", "error", err)
		}
	}
	return c.session.Clear(ctx)
}

func (c *Client) CurrentUser(ctx context.Context) (pubhunt.User, error) {
	var u pubhunt.User
	err := c.do(ctx, call{op: opCurrentUser, method: http.MethodGet, path: "/current-user/", auth: true}, &u)
	return u, err
}
