package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/publisherauthority/orderdesk/internal/lifecycle"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrUnknownRole  = errors.New("token carries no dashboard role")
)

// Session is the explicit per-request context handed to order operations.
// Token is forwarded unchanged to the marketplace backend.
type Session struct {
	UserID string
	Actor  lifecycle.Actor
	Token  string
}

type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type contextKey string

const sessionKey contextKey = "session"

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}

// ParseToken verifies an HS256 token and resolves the dashboard role.
func ParseToken(secret, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrMissingToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	actor, ok := lifecycle.ParseActor(claims.Role)
	if !ok {
		return Session{}, ErrUnknownRole
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Session{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	return Session{UserID: userID, Actor: actor, Token: token}, nil
}

// Sign issues a token for local development and tests.
func Sign(secret string, userID string, actor lifecycle.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   string(actor),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
