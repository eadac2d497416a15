package util

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields we read from tokens issued by the exam API.
// The signature is never verified here; the API does that.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// ParseTokenUnverified decodes a JWT without checking its signature.
func ParseTokenUnverified(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// TokenExpiry returns the exp claim, or false when the token has none or is malformed.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims, err := ParseTokenUnverified(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsTokenExpired treats missing, malformed and exp-less tokens as expired.
func IsTokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	if !ok {
		return true
	}
	return !exp.After(now)
}
