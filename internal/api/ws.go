package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tradepit/internal/game"
	"tradepit/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// handleWS upgrades the connection and serves one session until it closes. A client may
// pass ?session=<id>&resume=<token> to resume an earlier session that is no longer
// connected. Without the token issued to that session a fresh one is created.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, resumed := uuid.NewString(), false
	q := r.URL.Query()
	if prev := q.Get("session"); prev != "" {
		if s.resume.check(prev, q.Get("resume")) {
			id, resumed = prev, true
		} else {
			s.log.Warn("resume refused", "session", prev, "remote", r.RemoteAddr)
		}
	}
	c, ok := s.hub.register(id)
	if !ok && resumed {
		id, resumed = uuid.NewString(), false
		c, ok = s.hub.register(id)
	}
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.unregister(c)
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	log := s.log.With("session", id)
	log.Info("session connected", "resumed", resumed, "remote", r.RemoteAddr)

	go s.writePump(conn, c)

	welcome, err := wire.Encode(wire.TypeWelcome, wire.Welcome{
		SessionID:   id,
		ResumeToken: s.resume.issue(id),
		Name:        s.engine.DisplayName(id),
		Resumed:     resumed,
	})
	if err == nil {
		s.hub.sendTo(id, welcome)
	}
	if err := s.engine.Connect(id); err != nil {
		log.Warn("connect rejected", "err", err)
	}

	s.readPump(conn, c)

	s.hub.unregister(c)
	if err := s.engine.Disconnect(id); err != nil && !errors.Is(err, game.ErrEngineClosed) {
		log.Warn("disconnect failed", "err", err)
	}
	log.Info("session disconnected")
}

func (s *Server) readPump(conn *websocket.Conn, c *client) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug("websocket read failed", "session", c.id, "err", err)
			}
			return
		}
		s.route(c.id, data)
	}
}

// writePump owns all writes to conn. It exits when the hub closes the send queue.
func (s *Server) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// route hands one inbound frame to the engine. Engine failures are reported to the session
// by the engine itself; malformed frames are rejected here.
func (s *Server) route(id string, data []byte) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		s.reject(id, "unknown", err)
		return
	}
	switch env.Type {
	case wire.TypeSetUsername:
		var in wire.SetUsername
		if err := wire.DecodePayload(env, &in); err != nil {
			s.reject(id, env.Type, err)
			return
		}
		_, _ = s.engine.SetDisplayName(id, in.Name)
	case wire.TypeAdminLogin:
		var in wire.AdminLogin
		if err := wire.DecodePayload(env, &in); err != nil {
			s.reject(id, env.Type, err)
			return
		}
		if err := s.engine.AuthenticateAdmin(id, in.Password); err != nil {
			return
		}
		s.sendAdminToken(id)
	case wire.TypeAdminStart:
		_ = s.engine.Start(id)
	case wire.TypeAdminCancel:
		_ = s.engine.Cancel(id)
	case wire.TypeAdminReset:
		_ = s.engine.Reset(id)
	case wire.TypeAdminExport:
		_, _ = s.engine.Export(id)
	case wire.TypeTrade:
		var in wire.Trade
		if err := wire.DecodePayload(env, &in); err != nil {
			s.reject(id, env.Type, err)
			return
		}
		_ = s.engine.SubmitTrade(id, in.Qty)
	default:
		s.reject(id, env.Type, fmt.Errorf("%w: unknown message type %q", game.ErrInvalidMessage, env.Type))
	}
}

func (s *Server) sendAdminToken(id string) {
	if s.tokens == nil {
		return
	}
	token, exp, err := s.tokens.IssueToken(id)
	if err != nil {
		s.log.Error("issue admin token", "session", id, "err", err)
		return
	}
	frame, err := wire.Encode(wire.TypeAdminToken, wire.AdminToken{Token: token, ExpiresAt: exp})
	if err != nil {
		return
	}
	s.hub.sendTo(id, frame)
}

func (s *Server) reject(id, op string, err error) {
	s.log.Debug("frame rejected", "session", id, "op", op, "err", err)
	frame, encErr := wire.Encode(string(game.EventRejected), game.RejectedPayload{
		Op:      op,
		Kind:    game.KindOf(err),
		Message: err.Error(),
	})
	if encErr != nil {
		return
	}
	s.hub.sendTo(id, frame)
}
