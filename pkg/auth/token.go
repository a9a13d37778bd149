// Package auth holds the session credential the coordinator issues at
// registration. The node does not validate the token (only the coordinator
// holds the signing key); it parses the claims unverified to learn when to
// re-register.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionToken is the bearer credential for coordinator calls.
type SessionToken struct {
	Raw       string
	ExpiresAt time.Time
}

// Parse wraps a raw token, extracting expiry when it is a well-formed JWT.
// Opaque tokens get a zero expiry, meaning "valid until rejected".
func Parse(raw string) SessionToken {
	tok := SessionToken{Raw: raw}
	if raw == "" {
		return tok
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return tok
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		tok.ExpiresAt = exp.Time
	}
	return tok
}

// Valid reports whether the token exists and has not lapsed at now.
func (t SessionToken) Valid(now time.Time) bool {
	if t.Raw == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}
