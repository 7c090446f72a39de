package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tradepit/internal/auth"
	"tradepit/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

type contextKey string

const adminContextKey contextKey = "admin_session"

// TokenIssuer signs and checks admin bearer tokens.
type TokenIssuer interface {
	IssueToken(sessionID string) (string, time.Time, error)
	VerifyToken(token string) (string, error)
}

type Server struct {
	log      *slog.Logger
	engine   *game.Engine
	tokens   TokenIssuer
	hub      *Hub
	resume   *resumeKeys
	metrics  http.Handler
	upgrader websocket.Upgrader
	mux      *chi.Mux
}

// New wires the router. metricsHandler may be nil, in which case /metrics is not served.
func New(logger *slog.Logger, engine *game.Engine, tokens TokenIssuer, hub *Hub, metricsHandler http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:     logger,
		engine:  engine,
		tokens:  tokens,
		hub:     hub,
		resume:  newResumeKeys(),
		metrics: metricsHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mux: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		snap := s.engine.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"phase":    snap.Market.Phase,
			"sessions": s.hub.connected(),
		})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get("/ws", s.handleWS)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/state", s.handleState)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/start", s.handleAdminStart)
			r.Post("/cancel", s.handleAdminCancel)
			r.Post("/reset", s.handleAdminReset)
			r.Get("/export", s.handleAdminExport)
		})
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sessionID, err := s.tokens.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), adminContextKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(adminContextKey).(string)
	if !ok || id == "" {
		return "", errors.New("missing admin context")
	}
	return id, nil
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, snap.Market)
}

func (s *Server) handleAdminStart(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, s.engine.Start)
}

func (s *Server) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, s.engine.Cancel)
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, s.engine.Reset)
}

func (s *Server) adminAction(w http.ResponseWriter, r *http.Request, op func(id string) error) {
	id, err := adminFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := op(id); err != nil {
		writeDomainError(w, err)
		return
	}
	snap := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"phase":     snap.Market.Phase,
		"countdown": snap.Market.Countdown,
	})
}

func (s *Server) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	id, err := adminFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.engine.Export(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch game.KindOf(err) {
	case game.KindPrecondition, game.KindStateConflict:
		writeError(w, http.StatusConflict, err.Error())
	case game.KindAuthorization:
		writeError(w, http.StatusForbidden, err.Error())
	case game.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

var _ TokenIssuer = (*auth.AdminGate)(nil)
