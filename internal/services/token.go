package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/evpn/internal/shared"
	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry returns the exp claim of a JWT session token.
// ok is false for opaque tokens and for tokens without exp.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// CheckToken rejects JWT session tokens that expired before now.
func CheckToken(token string, now time.Time) error {
	exp, ok := TokenExpiry(token)
	if ok && !now.Before(exp) {
		return fmt.Errorf("%w at %s", shared.ErrTokenExpired, exp.Format(time.RFC3339))
	}
	return nil
}
