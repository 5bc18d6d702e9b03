package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrServerUnavailable means no response was received after every retry.
	ErrServerUnavailable = errors.New("server unavailable")
	// ErrNotAuthenticated means the call had no token or the server refused it.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Error is a request the server answered with an error status.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
}

func (e *Error) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrNotAuthenticated
	}
	return nil
}

const (
	opLogin         = "login"
	opRegister      = "register"
	opLogout        = "logout"
	opCurrentUser   = "current user"
	opListGames     = "list games"
	opCreateGame    = "create game"
	opGame          = "get game"
	opUpdateGame    = "update game"
	opJoinGame      = "join game"
	opStartGame     = "start game"
	opEndGame       = "end game"
	opSetArea       = "set area"
	opSubtractKitty = "subtract kitty"
	opMessages      = "get messages"
	opPostMessage   = "post message"
)

var fallbacks = map[string]string{
	opLogin:         "Login failed",
	opRegister:      "Registration failed",
	opLogout:        "Logout failed",
	opCurrentUser:   "Not authenticated",
	opListGames:     "Failed to list games",
	opCreateGame:    "Failed to create game",
	opGame:          "Failed to get game",
	opUpdateGame:    "Failed to update game",
	opJoinGame:      "Failed to join game",
	opStartGame:     "Failed to start game",
	opEndGame:       "Failed to end game",
	opSetArea:       "Failed to set game area",
	opSubtractKitty: "Failed to update kitty",
	opMessages:      "Failed to load messages",
	opPostMessage:   "Failed to send message",
}

// serverMessage extracts the human readable message from an error body.
func serverMessage(body []byte, fallback string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, key := range []string{"error", "detail", "message"} {
			if msg := text(fields[key]); msg != "" {
				return msg
			}
		}
	}
	if fallback == "" {
		return "Request failed"
	}
	return fallback
}

// text reads a string or the first string of a list, as Django REST
// framework returns both shapes.
func text(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0])
	}
	return ""
}

// Message returns the text to show a player for err.
func Message(err error) string {
	var apiErr *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, ErrServerUnavailable):
		return "Server unavailable. Check your connection and try again."
	case errors.Is(err, ErrNotAuthenticated):
		return "Not authenticated. Please log in."
	default:
		return err.Error()
	}
}
