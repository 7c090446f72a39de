package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradepit/internal/game"
	"tradepit/internal/wire"
)

// Stream is one websocket session. Next must be called from a single goroutine;
// Send is safe for concurrent use.
type Stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	Welcome wire.Welcome
}

// ErrRejected wraps a rejection frame returned by the server.
type ErrRejected struct {
	Payload game.RejectedPayload
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("%s rejected (%s): %s", e.Payload.Op, e.Payload.Kind, e.Payload.Message)
}

// WebsocketURL maps an http(s) base URL onto the server's /ws endpoint. The session is
// only resumed when both sessionID and resumeToken are set.
func WebsocketURL(baseURL, sessionID, resumeToken string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if sessionID != "" && resumeToken != "" {
		q := u.Query()
		q.Set("session", sessionID)
		q.Set("resume", resumeToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial connects and waits for the welcome frame. sessionID and resumeToken may be empty
// for a new session.
func Dial(ctx context.Context, baseURL, sessionID, resumeToken string) (*Stream, error) {
	endpoint, err := WebsocketURL(baseURL, sessionID, resumeToken)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	s := &Stream{conn: conn}
	payload, err := s.WaitFor(ctx, wire.TypeWelcome)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := json.Unmarshal(payload, &s.Welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode welcome: %w", err)
	}
	return s, nil
}

func (s *Stream) SessionID() string { return s.Welcome.SessionID }

// ResumeToken is the secret to present with SessionID on the next Dial.
func (s *Stream) ResumeToken() string { return s.Welcome.ResumeToken }

func (s *Stream) Send(kind string, payload any) error {
	frame, err := wire.Encode(kind, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Next blocks for the next frame or until ctx is done.
func (s *Stream) Next(ctx context.Context) (wire.Envelope, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return wire.Envelope{}, ctx.Err()
		}
		return wire.Envelope{}, err
	}
	return wire.DecodeEnvelope(data)
}

// WaitFor reads frames until one of kind arrives. A rejection frame ends the wait with
// an *ErrRejected.
func (s *Stream) WaitFor(ctx context.Context, kind string) (json.RawMessage, error) {
	for {
		env, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if env.Type == kind {
			return env.Payload, nil
		}
		if env.Type == string(game.EventRejected) {
			var rej game.RejectedPayload
			if err := json.Unmarshal(env.Payload, &rej); err != nil {
				return nil, err
			}
			return nil, &ErrRejected{Payload: rej}
		}
		if env.Type == string(game.EventAdminAuthResult) && kind == wire.TypeAdminToken {
			var res game.AdminAuthPayload
			if err := json.Unmarshal(env.Payload, &res); err == nil && !res.Success {
				return nil, errors.New(res.Message)
			}
		}
	}
}

func (s *Stream) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// DecodeState decodes a state frame payload.
func DecodeState(payload json.RawMessage) (wire.State, error) {
	var st wire.State
	err := json.Unmarshal(payload, &st)
	return st, err
}
