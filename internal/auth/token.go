// Package auth issues the HS256 tokens that middleware.RequireAuth accepts.
// Production tokens come from the directory's account service; this is for
// local runs and operators.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL matches the lifetime of account service tokens.
const DefaultTTL = 30 * 24 * time.Hour

// IssueToken creates a signed JWT whose subject is userID.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
