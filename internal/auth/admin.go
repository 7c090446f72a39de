package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer = "tradepit"
	adminScope  = "admin"
)

var ErrInvalidToken = errors.New("invalid or expired admin token")

// AdminGate checks the shared admin secret and issues short-lived bearer tokens to
// sessions that passed it, so the REST control plane can act on their behalf.
type AdminGate struct {
	secret   []byte
	tokenKey []byte
	ttl      time.Duration
	now      func() time.Time
}

type AdminClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// NewAdminGate builds a gate. An empty tokenKey is replaced with a random one, which
// invalidates outstanding tokens on restart.
func NewAdminGate(adminSecret, tokenKey string, ttl time.Duration) (*AdminGate, error) {
	if strings.TrimSpace(adminSecret) == "" {
		return nil, fmt.Errorf("admin secret is required")
	}
	key := []byte(tokenKey)
	if len(key) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate token key: %w", err)
		}
		key = []byte(hex.EncodeToString(buf))
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AdminGate{secret: []byte(adminSecret), tokenKey: key, ttl: ttl, now: time.Now}, nil
}

func (g *AdminGate) CheckAdminSecret(secret string) bool {
	return subtle.ConstantTimeCompare([]byte(secret), g.secret) == 1
}

// IssueToken signs an HS256 token whose subject is the admin session id.
func (g *AdminGate) IssueToken(sessionID string) (string, time.Time, error) {
	now := g.now()
	exp := now.Add(g.ttl)
	claims := AdminClaims{
		Scope: adminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.tokenKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// VerifyToken returns the admin session id carried by a valid token.
func (g *AdminGate) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.tokenKey, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || claims.Scope != adminScope || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
