package models

import "github.com/golang-jwt/jwt/v5"

// TokenType discriminates the two claim variants.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// AccessClaims is the payload of a short-lived access token. Email and admin flag are
// embedded so requests can be authorized without a user lookup.
type AccessClaims struct {
	Email   string    `json:"email"`
	IsAdmin bool      `json:"is_admin"`
	Type    TokenType `json:"type"`
	jwt.RegisteredClaims
}

// Registered exposes the registered claim set.
func (c *AccessClaims) Registered() *jwt.RegisteredClaims { return &c.RegisteredClaims }

// Kind returns the type discriminator.
func (c *AccessClaims) Kind() string { return string(c.Type) }

// Principal rebuilds the subject described by the claims.
func (c *AccessClaims) Principal() *Principal {
	return &Principal{ID: c.Subject, Email: c.Email, IsAdmin: c.IsAdmin}
}

// RefreshClaims is the payload of a long-lived refresh token. Its jti is the rotation
// identifier shared with the access token issued alongside it.
type RefreshClaims struct {
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

// Registered exposes the registered claim set.
func (c *RefreshClaims) Registered() *jwt.RegisteredClaims { return &c.RegisteredClaims }

// Kind returns the type discriminator.
func (c *RefreshClaims) Kind() string { return string(c.Type) }
