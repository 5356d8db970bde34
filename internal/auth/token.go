// ABOUTME: JWT issuing and verification for API callers
// ABOUTME: HS256 tokens carry the authenticated user and tenant identity

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token fails signature or claim checks.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller: a user within a tenant.
type Identity struct {
	UserID    string
	CompanyID string
}

// TokenVerifier validates a bearer token and returns the caller identity.
type TokenVerifier interface {
	Verify(token string) (*Identity, error)
}

// TokenManager issues and verifies HS256 JWTs.
type TokenManager struct {
	secret []byte
}

// NewTokenManager creates a token manager with the given signing secret.
func NewTokenManager(secret string) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &TokenManager{secret: []byte(secret)}, nil
}

type claims struct {
	CompanyID string `json:"company_id"`
	jwt.RegisteredClaims
}

// Issue creates a signed token for the identity with the given lifetime.
// A non-positive lifetime issues a token without expiry.
func (m *TokenManager) Issue(identity Identity, lifetime time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		CompanyID: identity.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if lifetime > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(lifetime))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify parses and validates a token, returning the caller identity.
func (m *TokenManager) Verify(tokenString string) (*Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if c.Subject == "" || c.CompanyID == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: c.Subject, CompanyID: c.CompanyID}, nil
}

var _ TokenVerifier = (*TokenManager)(nil)
