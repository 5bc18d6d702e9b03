package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/playperu/pubhunt/internal/pubhunt"
)

// Message types, inbound and outbound.
const (
	TypeChatMessage    = "chat_message"
	TypeGameUpdate     = "game_update"
	TypeAreaUpdate     = "area_update"
	TypeGameFinished   = "game_finished"
	TypeError          = "error"
	TypeUpdateLocation = "update_location"
	TypeAddHint        = "add_hint"
)

// Envelope is one inbound message. The payload is decoded on demand.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

type header struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	ID     *int64          `json:"id"`
	Status string          `json:"status"`
}

// Decode classifies a raw message. The server broadcasts game updates as the
// bare serialized game, so an untyped object with an id and a status is a
// game_update, and an untyped object with an error field is an error.
func Decode(data []byte) (Envelope, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	env := Envelope{Type: h.Type, Raw: json.RawMessage(data)}
	if env.Type != "" {
		return env, nil
	}
	switch {
	case h.Error != "":
		env.Type = TypeError
	case h.ID != nil && h.Status != "":
		env.Type = TypeGameUpdate
	default:
		return Envelope{}, errors.New("envelope has no type")
	}
	return env, nil
}

// payload returns the "data" member when present, else the whole message.
func (e Envelope) payload() []byte {
	var h header
	if err := json.Unmarshal(e.Raw, &h); err == nil && len(h.Data) > 0 && string(h.Data) != "null" {
		return h.Data
	}
	return e.Raw
}

// Game decodes a game_update or area_update payload.
func (e Envelope) Game() (pubhunt.Game, error) {
	var g pubhunt.Game
	if err := json.Unmarshal(e.payload(), &g); err != nil {
		return g, fmt.Errorf("decoding %s: %w", e.Type, err)
	}
	return g, nil
}

// Chat decodes a chat_message, either nested under "message" or inline.
func (e Envelope) Chat() (pubhunt.ChatMessage, error) {
	var nested struct {
		Message *pubhunt.ChatMessage `json:"message"`
	}
	if err := json.Unmarshal(e.payload(), &nested); err == nil && nested.Message != nil {
		return *nested.Message, nil
	}
	var m pubhunt.ChatMessage
	if err := json.Unmarshal(e.payload(), &m); err != nil {
		return m, fmt.Errorf("decoding chat message: %w", err)
	}
	return m, nil
}

// Winner returns the winning team of a game_finished message.
func (e Envelope) Winner() (*pubhunt.Team, error) {
	var body struct {
		WinnerTeam *pubhunt.Team `json:"winner_team"`
	}
	if err := json.Unmarshal(e.payload(), &body); err != nil {
		return nil, fmt.Errorf("decoding game_finished: %w", err)
	}
	return body.WinnerTeam, nil
}

// Err returns the server's error text for error envelopes.
func (e Envelope) Err() string {
	var h header
	json.Unmarshal(e.Raw, &h)
	return h.Error
}
