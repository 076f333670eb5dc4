// Package auth provides Direct Line token parsing and inspection.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the decoded claims of a Direct Line bearer token.
type Claims struct {
	Bot  string `json:"bot"`  // Bot identifier
	Site string `json:"site"` // Site the token was issued for
	Conv string `json:"conv"` // Conversation identifier, if bound
	jwt.RegisteredClaims
}

// ParseClaims decodes a Direct Line token without verifying its signature.
// The client never holds the signing key; tokens are validated by the service
// on every request, so the claims are used for diagnostics only.
func ParseClaims(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return claims, nil
}

// Expiry returns the expiration time, or the zero time when the token
// carries no exp claim.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ExpiresIn returns the duration until token expiration. Tokens without an
// exp claim report zero.
func (c *Claims) ExpiresIn() time.Duration {
	exp := c.Expiry()
	if exp.IsZero() {
		return 0
	}
	return time.Until(exp)
}

// IsExpired checks if the token has expired. Tokens without an exp claim are
// treated as expired.
func (c *Claims) IsExpired() bool {
	exp := c.Expiry()
	return exp.IsZero() || time.Now().After(exp)
}

// ConversationID returns the conversation the token is bound to, if any.
func (c *Claims) ConversationID() string {
	return c.Conv
}

// Validate performs additional validation on the claims.
func (c *Claims) Validate() error {
	if c.IsExpired() {
		return fmt.Errorf("token expired at %s", c.Expiry())
	}

	if c.IssuedAt != nil && c.IssuedAt.After(time.Now()) {
		return fmt.Errorf("token issued in the future: %s", c.IssuedAt.Time)
	}

	return nil
}
