// Package wire holds the websocket frames exchanged between the server, the CLI and the bots.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradepit/internal/game"
)

func init() {
	// Money fields travel as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Inbound frame types.
const (
	TypeSetUsername = "set_username"
	TypeAdminLogin  = "admin_login"
	TypeAdminStart  = "admin_start"
	TypeAdminCancel = "admin_cancel"
	TypeAdminReset  = "admin_reset"
	TypeAdminExport = "admin_export"
	TypeTrade       = "trade"
)

// Outbound frame types not produced by the engine.
const (
	TypeWelcome    = "welcome"
	TypeAdminToken = "admin_token"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SetUsername struct {
	Name string `json:"name"`
}

type AdminLogin struct {
	Password string `json:"password"`
}

type Trade struct {
	Qty int64 `json:"qty"`
}

// Welcome is the first frame on every connection. ResumeToken must accompany the session
// id to reattach later; a new one is issued on each connect.
type Welcome struct {
	SessionID   string `json:"session_id"`
	ResumeToken string `json:"resume_token"`
	Name        string `json:"name"`
	Resumed     bool   `json:"resumed"`
}

type AdminToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// State is the personalized snapshot frame. Participants see their own view in You;
// admins get every connected participant instead.
type State struct {
	Market       game.MarketView        `json:"market"`
	IsAdmin      bool                   `json:"is_admin"`
	You          *game.ParticipantView  `json:"you,omitempty"`
	Participants []game.ParticipantView `json:"participants,omitempty"`
}

func Encode(kind string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: kind, Payload: raw})
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", game.ErrInvalidMessage, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", game.ErrInvalidMessage)
	}
	return env, nil
}

// DecodePayload strictly decodes a frame payload. Unknown fields are rejected.
func DecodePayload(env Envelope, out any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s requires a payload", game.ErrInvalidMessage, env.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", game.ErrInvalidMessage, env.Type, err)
	}
	return nil
}
