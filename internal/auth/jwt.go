// Package auth validates bearer tokens issued by the identity service.
// This service never issues tokens; it only verifies them.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"notigate/internal/common"
)

// Claims is the expected JWT payload. Type must be "access"; refresh and
// other token kinds are rejected even when correctly signed.
type Claims struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// Validator verifies JWT bearer tokens.
type Validator struct {
	secret    []byte
	algorithm string
}

// NewValidator creates a token validator for the given shared secret and
// signing algorithm (HS256 by default).
func NewValidator(secret, algorithm string) *Validator {
	if algorithm == "" {
		algorithm = "HS256"
	}
	return &Validator{secret: []byte(secret), algorithm: algorithm}
}

// Verify parses and validates a token, returning its claims. Signature,
// expiry, algorithm and token-type failures all map to UnauthorizedError.
func (v *Validator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.algorithm {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, common.NewUnauthorizedError("invalid or expired token")
	}
	if claims.Type != "access" {
		return nil, common.NewUnauthorizedError("invalid token type")
	}
	return claims, nil
}
