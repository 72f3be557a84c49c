// Package auth issues and validates the application's own session JWTs. The
// JWT only identifies the user; Spotify tokens never leave the session store.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "smartdj"

// Claims holds the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string `json:"uid"`
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Identity is what a token asserts about its bearer.
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
}

// IssueToken creates a signed HS256 token for id.
func IssueToken(secret string, id Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth.IssueToken: empty secret")
	}
	if id.UserID == "" {
		return "", errors.New("auth.IssueToken: empty user id")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Email:       id.Email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a token string and returns its claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}

// Identity returns the identity the claims assert.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, DisplayName: c.DisplayName, Email: c.Email}
}

// NewState returns an unguessable OAuth state value.
func NewState() string {
	return uuid.NewString()
}
