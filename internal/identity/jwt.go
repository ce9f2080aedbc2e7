// Package identity is the host's minimal identity provider: bcrypt password checks,
// HMAC-signed access tokens, and a registry of observers for login/logout events
// that happen outside the HTTP request cycle.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSecret is returned outside dev mode when no signing secret is configured
var ErrMissingSecret = errors.New("auth.jwt_secret (MON_AUTH_JWT_SECRET) is required outside dev mode; generate one with: openssl rand -hex 32")

// Claims represents the JWT claims structure
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// IsDevMode reports whether the process runs in development mode
func IsDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

// ResolveSecret returns the configured signing secret. In dev mode an empty secret
// is replaced by a random one, so tokens do not survive a restart.
func ResolveSecret(configured string) (string, error) {
	if configured != "" {
		if len(configured) < 32 {
			slog.Warn("auth.jwt_secret is shorter than the recommended 32 characters")
		}
		return configured, nil
	}
	if !IsDevMode() {
		return "", ErrMissingSecret
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate dev secret: %w", err)
	}
	slog.Warn("auth.jwt_secret not set; using an auto-generated secret for development")
	return hex.EncodeToString(buf), nil
}

// TokenIssuer signs and verifies access tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenIssuer creates a TokenIssuer. ttl <= 0 defaults to one hour.
func NewTokenIssuer(secret string, ttl time.Duration, issuer string) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, issuer: issuer}
}

// Issue creates a signed token for a user
func (t *TokenIssuer) Issue(userID, username string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(t.ttl)

	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    t.issuer,
			Subject:   userID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies a token, rejecting non-HMAC algorithms
func (t *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id claim")
	}
	return claims, nil
}
